package listen

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dreamware/searchd/internal/config"
)

func TestDetectProtocol_HTTPMethods(t *testing.T) {
	for _, method := range []string{"GET ", "POST", "PUT ", "HEAD", "DELE", "OPTI", "PATC"} {
		assert.Equal(t, config.ProtocolHTTP, DetectProtocol([]byte(method+"/status")), method)
	}
}

func TestDetectProtocol_MySQLWire(t *testing.T) {
	peek := []byte{0x20, 0x00, 0x00, 0x00} // length=32, seq=0
	assert.Equal(t, config.ProtocolMySQLWire, DetectProtocol(peek))
}

func TestDetectProtocol_LegacyBinaryDefault(t *testing.T) {
	peek := []byte{0x00, 0x00, 0x00, 0x01} // handshake version, big-endian
	assert.Equal(t, config.ProtocolLegacyBinary, DetectProtocol(peek))
}

func TestDetectProtocol_TooShortDefaultsToLegacy(t *testing.T) {
	assert.Equal(t, config.ProtocolLegacyBinary, DetectProtocol([]byte{1, 2}))
}

func TestDetectProtocol_MySQLWireRequiresZeroSequence(t *testing.T) {
	peek := []byte{0x20, 0x00, 0x00, 0x01} // seq=1, not a first packet
	assert.Equal(t, config.ProtocolLegacyBinary, DetectProtocol(peek))
}
