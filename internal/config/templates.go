package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "host":
		return hostTemplate, nil
	case "target":
		return targetTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const hostTemplate = `[link]
retry_budget = 20
max_packet_size = 4000
hunt_budget = 16384
byte_timeout = "250ms"

[channel]
# serial | tcp | tcp-listen | websocket
kind = "tcp-listen"
addr = "127.0.0.1:4555"
path = "/dev/ttyUSB0"
url = "ws://127.0.0.1:8765/kd"
baud_rate = 115200
data_bits = 8
stop_bits = 1
parity = "none"

[admin]
addr = "127.0.0.1:7020"

[capture]
path = ""

[host]
auto_continue = true
continue_status = "0x00010002"
attach = true
`

const targetTemplate = `[link]
retry_budget = 20
byte_timeout = "250ms"

[channel]
kind = "tcp"
addr = "127.0.0.1:4555"

[target]
print_interval = "2s"
message = "kdtarget: tick"
breakpoint_every = 0
`
