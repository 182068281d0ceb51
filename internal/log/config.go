package log

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// AppenderConfig describes one log sink: "console", "stderr", "file",
// "kafka", or "loki". Options is decoded into the appender-specific
// struct (FileAppenderOpt, KafkaAppenderOpt, LokiConfig) by decodeOptions.
type AppenderConfig struct {
	Type    string                 `mapstructure:"type"`
	Options map[string]interface{} `mapstructure:"options"`
}

// decodeOptions maps an appender's freeform options into a typed struct
// using the same mapstructure tags viper decodes the rest of the
// configuration document with.
func decodeOptions(options map[string]interface{}, out interface{}) error {
	if options == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("decode appender options: %w", err)
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("decode appender options: %w", err)
	}
	return nil
}
