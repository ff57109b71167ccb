//go:build !linux

package capture

import (
	"fmt"

	"github.com/wardenhq/sentryd/internal/config"
)

func openAFPacket(iface string, cfg config.InterfaceConfig) (Source, error) {
	return nil, fmt.Errorf("capture: af_packet backend is linux-only")
}
