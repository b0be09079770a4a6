package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/skypro1111/collectd-listener/internal/protocol"
)

var (
	rootCmd = &cobra.Command{
		Use:   "collectd-decode [hex]",
		Short: "Decode collectd network datagrams",
		Long:  "collectd-decode decodes hex-encoded collectd binary protocol datagrams and prints them as JSON.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				return runInteractive(cmd.InOrStdin(), out)
			}
			return runDecode(out, args[0])
		},
	}

	pretty   bool
	showWalk bool
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "indent JSON output")
	rootCmd.PersistentFlags().BoolVar(&showWalk, "records", false, "print the raw decoded records instead of the assembled packet")
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func runInteractive(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	logrus.Info("collectd-decode: one hex datagram per line (Ctrl+D to exit).")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := runDecode(out, line); err != nil {
			logrus.WithError(err).Error("failed to decode datagram")
		}
	}
	return scanner.Err()
}

// parseHex accepts plain hex as well as dumps separated by spaces or colons
func parseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(s)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return data, nil
}

func runDecode(out io.Writer, input string) error {
	data, err := parseHex(input)
	if err != nil {
		return err
	}

	var result interface{}
	if showWalk {
		fields, skipped, err := protocol.Walk(data)
		if err != nil {
			return fmt.Errorf("%s: %w", protocol.ErrorKind(err), err)
		}
		result = struct {
			Records []protocol.Field         `json:"records"`
			Skipped []protocol.SkippedRecord `json:"skipped,omitempty"`
		}{fields, skipped}
	} else {
		pkt, err := protocol.Decode(data)
		if err != nil {
			return fmt.Errorf("%s: %w", protocol.ErrorKind(err), err)
		}
		logrus.WithFields(logrus.Fields{
			"bytes":        len(data),
			"measurements": len(pkt.Measurements),
			"alerts":       len(pkt.Alerts),
			"skipped":      len(pkt.Skipped),
		}).Debug("decoded datagram")
		result = pkt
	}

	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(result)
}
