package grpcsvc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName: content-subtype JSON-кодека: application/grpc+json.
const CodecName = "json"

// jsonCodec кодирует сообщения ReservationService в JSON.
// Сообщения сервиса: обычные структуры Go, protobuf-описаний у них нет.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
