package api

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/owlet-data/gaze.report/internal/ingest"
)

// serialPortInfo describes one serial port a tracker could be attached to.
type serialPortInfo struct {
	Path         string `json:"path"`
	FriendlyName string `json:"friendly_name"`
}

// listSerialPorts enumerates the serial ports visible to the host so an
// operator can pick one for the -source=serial flag.
func (s *Server) listSerialPorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}

	paths, err := ingest.ListPorts()
	if err != nil {
		log.Printf("[API] Serial enumeration failed: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "serial_enumeration_failed", "failed to enumerate serial ports")
		return
	}

	ports := make([]serialPortInfo, 0, len(paths))
	for _, p := range paths {
		ports = append(ports, serialPortInfo{Path: p, FriendlyName: friendlyPortName(p)})
	}
	s.writeJSON(w, map[string]interface{}{
		"ports": ports,
		"count": len(ports),
	})
}

// friendlyPortName labels the common USB tracker bridges.
func friendlyPortName(portPath string) string {
	parts := strings.Split(portPath, "/")
	device := parts[len(parts)-1]
	switch {
	case strings.HasPrefix(device, "ttyUSB"):
		return fmt.Sprintf("USB Serial Adapter (%s)", device)
	case strings.HasPrefix(device, "ttyACM"):
		return fmt.Sprintf("USB CDC Device (%s)", device)
	default:
		return device
	}
}
