package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service advertised by the ingestion server
const ServiceType = "_enhancer._tcp"

// ErrNotFound is returned when no server answered within the browse timeout
var ErrNotFound = errors.New("no enhancement server found")

// Config holds advertisement configuration
type Config struct {
	Instance string
	Port     int
	// IPs defaults to the addresses of all up, non-loopback IPv4 interfaces
	IPs []net.IP
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name string
	Host string
	Port int
}

// Advertiser answers mDNS queries for the server until Shutdown
type Advertiser struct {
	server *mdns.Server
	logger *slog.Logger
}

// Advertise starts answering mDNS queries for this server
func Advertise(config Config, logger *slog.Logger) (*Advertiser, error) {
	service, err := newService(config)
	if err != nil {
		return nil, err
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns server: %w", err)
	}

	logger.Info("Advertising mDNS service",
		slog.String("instance", service.Instance),
		slog.String("service", ServiceType),
		slog.Int("port", config.Port),
	)

	return &Advertiser{server: server, logger: logger}, nil
}

func newService(config Config) (*mdns.MDNSService, error) {
	if config.Instance == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	if config.Port < 1 || config.Port > 65535 {
		return nil, fmt.Errorf("port must be between 1 and 65535, got %d", config.Port)
	}

	ips := config.IPs
	if len(ips) == 0 {
		var err error
		ips, err = localIPs()
		if err != nil {
			return nil, fmt.Errorf("failed to get local IPs: %w", err)
		}
	}

	service, err := mdns.NewMDNSService(
		config.Instance,
		ServiceType,
		"",
		"",
		config.Port,
		ips,
		[]string{"path=/upload"},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	return service, nil
}

// Shutdown stops answering queries
func (a *Advertiser) Shutdown() error {
	a.logger.Info("Stopping mDNS advertisement")
	return a.server.Shutdown()
}

// Browse queries the local network for servers for up to timeout, or until
// the ctx deadline if that is sooner
func Browse(ctx context.Context, timeout time.Duration, logger *slog.Logger) ([]ServerInfo, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	collected := make(chan []ServerInfo, 1)

	go func() {
		var servers []ServerInfo
		for entry := range entries {
			server, ok := toServerInfo(entry)
			if !ok {
				continue
			}
			logger.Info("Discovered server",
				slog.String("name", server.Name),
				slog.String("host", server.Host),
				slog.Int("port", server.Port),
			)
			servers = append(servers, server)
		}
		collected <- servers
	}()

	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}

	var err error
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else {
		err = mdns.Query(&mdns.QueryParam{
			Service: ServiceType,
			Domain:  "local",
			Timeout: timeout,
			Entries: entries,
		})
	}
	close(entries)
	servers := <-collected

	if err != nil && len(servers) == 0 {
		return nil, fmt.Errorf("mdns query failed: %w", err)
	}

	return servers, nil
}

// First returns the first server found
func First(ctx context.Context, timeout time.Duration, logger *slog.Logger) (ServerInfo, error) {
	servers, err := Browse(ctx, timeout, logger)
	if err != nil {
		return ServerInfo{}, err
	}
	if len(servers) == 0 {
		return ServerInfo{}, ErrNotFound
	}
	return servers[0], nil
}

func toServerInfo(entry *mdns.ServiceEntry) (ServerInfo, bool) {
	if entry == nil || entry.Port == 0 {
		return ServerInfo{}, false
	}
	if !strings.Contains(entry.Name, ServiceType) {
		return ServerInfo{}, false
	}

	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	default:
		return ServerInfo{}, false
	}

	return ServerInfo{Name: entry.Name, Host: host, Port: entry.Port}, true
}

// localIPs returns the IPv4 addresses of all up, non-loopback interfaces
func localIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("no usable network interface")
	}

	return ips, nil
}
