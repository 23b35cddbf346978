package app

import (
	"strconv"
	"strings"

	"github.com/skobkin/avcomgo/internal/config"
	"github.com/skobkin/avcomgo/internal/connectors"
)

func TransportNameFromConnector(connector config.ConnectorType) string {
	switch connector {
	case config.ConnectorIP:
		return "ip"
	case config.ConnectorSerial:
		return "serial"
	default:
		if value := strings.TrimSpace(string(connector)); value != "" {
			return value
		}
		return "unknown"
	}
}

func ConnectionTarget(cfg config.ConnectionConfig) string {
	switch cfg.Connector {
	case config.ConnectorIP:
		host := strings.TrimSpace(cfg.Host)
		if host == "" {
			return ""
		}
		port := cfg.Port
		if port <= 0 {
			port = config.DefaultIPPort
		}
		return host + ":" + strconv.Itoa(port)
	case config.ConnectorSerial:
		return strings.TrimSpace(cfg.SerialPort)
	default:
		return ""
	}
}

// SessionStatusFromConfig is the status shown before the session reports one.
func SessionStatusFromConfig(cfg config.ConnectionConfig) connectors.SessionStatus {
	return connectors.SessionStatus{
		State:         connectors.SessionStateUninitialized,
		TransportName: TransportNameFromConnector(cfg.Connector),
		Target:        ConnectionTarget(cfg),
	}
}
