package main

import (
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/skypro1111/edge-audio-enhancer/internal/audio"
)

// mock-enhancer is a stand-in model service for local runs of the http
// enhancement backend. It answers /enhance with the uploaded audio unchanged.
func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	fail := flag.Bool("fail", false, "Answer every enhancement with HTTP 500")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/enhance", enhanceHandler(*delay, *fail, logger))

	logger.Info("Mock enhancer starting",
		slog.String("address", *addr),
		slog.String("endpoint", "/enhance"),
		slog.Bool("fail", *fail),
	)

	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func enhanceHandler(delay time.Duration, fail bool, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := r.ParseMultipartForm(64 << 20); err != nil {
			http.Error(w, "Error parsing form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Error getting audio file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "Error reading audio file", http.StatusInternalServerError)
			return
		}

		info, err := audio.GetWAVInfo(data)
		if err != nil {
			http.Error(w, "Not a WAV file: "+err.Error(), http.StatusBadRequest)
			return
		}

		logger.Info("Enhancement request",
			slog.String("filename", header.Filename),
			slog.String("format", info.Format.String()),
			slog.Float64("duration_seconds", info.Duration),
			slog.String("model_config", r.FormValue("model_config")),
			slog.String("checkpoint", r.FormValue("checkpoint")),
		)

		// Rewrite as a canonical 44-byte-header WAV, like a model writing its output
		pcm, format, err := audio.DecodeWAV(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		enhanced, err := audio.EncodeWAV(pcm, format)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		time.Sleep(delay)

		if fail {
			http.Error(w, "CUDA error: out of memory", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)
		w.Write(enhanced)
	}
}
