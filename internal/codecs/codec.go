package codecs

// Codec marshals and unmarshals projection positions, state and read-model
// documents.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}
