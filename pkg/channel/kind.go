package channel

import (
	"fmt"
	"strings"
)

// Kind is the category of hardware a channel fronts.
type Kind uint8

const (
	KindDeviceNode Kind = iota
	KindVideoSource
	KindAudioSource
	KindAudioDestination
	KindTelemetry
	KindIOPanel
	KindTextEventSource
)

var kindNames = map[Kind]string{
	KindDeviceNode:       "device_node",
	KindVideoSource:      "video_source",
	KindAudioSource:      "audio_source",
	KindAudioDestination: "audio_destination",
	KindTelemetry:        "telemetry",
	KindIOPanel:          "io_panel",
	KindTextEventSource:  "text_event_source",
}

// String returns the configuration name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind parses a configuration name such as "video_source".
// Hyphens are accepted in place of underscores.
func ParseKind(s string) (Kind, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for k, name := range kindNames {
		if name == norm {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}
