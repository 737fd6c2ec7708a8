package codecs

import jsoniter "github.com/json-iterator/go"

// Map keys are sorted so a positions snapshot always encodes to the same
// bytes for the same content.
var json = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

type JSONIterCodec struct{}

func NewJSONIter() *JSONIterCodec {
	return &JSONIterCodec{}
}

func (c *JSONIterCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal treats empty input and JSON null as "no value" and leaves v
// untouched, which is how an unpersisted state column reads back.
func (c *JSONIterCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}
