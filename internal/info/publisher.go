package info

import (
	"encoding/json"
	"fmt"

	"github.com/loqalabs/loqa-stt/internal/asr"
	"github.com/loqalabs/loqa-stt/internal/protocol"
)

// Publisher holds the immutable capability descriptor for the active
// backend. It is built once at startup and the marshaled payload is served
// verbatim for every discovery request.
type Publisher struct {
	descriptor protocol.Descriptor
	payload    []byte
}

// New builds the descriptor from the active backend and the resolved model
// name.
func New(serviceVersion, backendName, modelName string, backend asr.Backend) (*Publisher, error) {
	attribution := protocol.Attribution{
		Name: backend.Attribution().Name,
		URL:  backend.Attribution().URL,
	}
	descriptor := protocol.Descriptor{
		ASR: []protocol.Program{
			{
				Name:        backendName,
				Description: fmt.Sprintf("Whisper transcription using %s", backendName),
				Attribution: attribution,
				Installed:   true,
				Version:     serviceVersion,
				Models: []protocol.ModelInfo{
					{
						Name:        modelName,
						Description: modelName,
						Attribution: attribution,
						Installed:   true,
						Languages:   backend.SupportedLanguages(),
						Version:     backend.Version(),
					},
				},
			},
		},
	}

	payload, err := json.Marshal(descriptor)
	if err != nil {
		return nil, fmt.Errorf("marshal descriptor: %w", err)
	}
	return &Publisher{descriptor: descriptor, payload: payload}, nil
}

// Descriptor returns the structured capability record.
func (p *Publisher) Descriptor() protocol.Descriptor {
	return p.descriptor
}

// Payload returns the cached reply bytes. Callers must not mutate them.
func (p *Publisher) Payload() []byte {
	return p.payload
}
