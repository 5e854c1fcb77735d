package server

import (
	"log/slog"
	"net"
)

// FallbackBindAddress is used when no outbound interface can be found
const FallbackBindAddress = "0.0.0.0"

// probeTarget is dialed over UDP to learn the outbound interface; nothing is sent
const probeTarget = "8.8.8.8:80"

// DetectBindAddress returns the local address of the interface that routes to the
// internet, or FallbackBindAddress if there is none
func DetectBindAddress(logger *slog.Logger) string {
	return detectBindAddress(probeTarget, logger)
}

func detectBindAddress(target string, logger *slog.Logger) string {
	conn, err := net.Dial("udp", target)
	if err != nil {
		logger.Warn("Failed to detect host IP, binding all interfaces",
			slog.String("error", err.Error()),
		)
		return FallbackBindAddress
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil || addr.IP.IsUnspecified() {
		return FallbackBindAddress
	}

	logger.Info("Retrieved host IP", slog.String("ip", addr.IP.String()))
	return addr.IP.String()
}
