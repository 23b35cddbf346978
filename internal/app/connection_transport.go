package app

import (
	"fmt"

	"github.com/skobkin/avcomgo/internal/config"
	"github.com/skobkin/avcomgo/internal/transport"
)

func NewTransportForConnection(cfg config.ConnectionConfig) (transport.Transport, error) {
	switch cfg.Connector {
	case config.ConnectorIP:
		port := cfg.Port
		if port <= 0 {
			port = config.DefaultIPPort
		}
		return transport.NewIPTransport(cfg.Host, port), nil
	case config.ConnectorSerial:
		return transport.NewSerialTransport(cfg.SerialPort, cfg.SerialBaud), nil
	default:
		return nil, fmt.Errorf("unknown connector: %q", cfg.Connector)
	}
}
