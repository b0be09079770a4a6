// Command webhook-sink is a local receiver for the listener's forwarder.
// It logs every posted batch and can fail requests on purpose to exercise retries.
package main

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "webhook-sink",
		Short: "Receive and log batches posted by collectd-listener",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mux := http.NewServeMux()
			mux.Handle(path, newSink(failEvery))

			logrus.WithFields(logrus.Fields{
				"address":    listenAddr,
				"path":       path,
				"fail_every": failEvery,
			}).Info("webhook sink listening")

			srv := &http.Server{
				Addr:              listenAddr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			return srv.ListenAndServe()
		},
	}

	listenAddr string
	path       string
	failEvery  int
)

func init() {
	rootCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:9000", "address to listen on")
	rootCmd.Flags().StringVar(&path, "path", "/collectd", "path the forwarder posts to")
	rootCmd.Flags().IntVar(&failEvery, "fail-every", 0, "answer every Nth request with 503 (0 disables)")
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

// batch mirrors the forwarder's JSON body; values stay raw
type batch struct {
	Source       string    `json:"source"`
	ReceivedAt   time.Time `json:"received_at"`
	Measurements []struct {
		Time           float64           `json:"time"`
		Host           string            `json:"host"`
		Plugin         string            `json:"plugin"`
		PluginInstance string            `json:"plugin_instance"`
		Type           string            `json:"type"`
		TypeInstance   string            `json:"type_instance"`
		Values         []json.RawMessage `json:"values"`
	} `json:"measurements"`
	Alerts []struct {
		Severity int    `json:"severity"`
		Host     string `json:"host"`
		Message  string `json:"message"`
	} `json:"alerts"`
}

type sink struct {
	failEvery int
	requests  atomic.Uint64
	received  atomic.Uint64
}

func newSink(failEvery int) *sink {
	return &sink{failEvery: failEvery}
}

func (s *sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n := s.requests.Add(1)
	if s.failEvery > 0 && n%uint64(s.failEvery) == 0 {
		logrus.WithField("request", n).Warn("failing request on purpose")
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	var b batch
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		logrus.WithError(err).Error("failed to decode batch")
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	s.received.Add(1)

	entry := logrus.WithFields(logrus.Fields{
		"source":       b.Source,
		"received_at":  b.ReceivedAt.Format(time.RFC3339Nano),
		"measurements": len(b.Measurements),
		"alerts":       len(b.Alerts),
	})
	entry.Info("batch received")

	for _, m := range b.Measurements {
		entry.WithFields(logrus.Fields{
			"host":            m.Host,
			"plugin":          m.Plugin,
			"plugin_instance": m.PluginInstance,
			"type":            m.Type,
			"type_instance":   m.TypeInstance,
			"values":          len(m.Values),
		}).Debug("measurement")
	}
	for _, a := range b.Alerts {
		entry.WithFields(logrus.Fields{
			"host":     a.Host,
			"severity": a.Severity,
		}).Info(a.Message)
	}

	w.WriteHeader(http.StatusNoContent)
}
