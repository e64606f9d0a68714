// Package idgen provides notification ids and cluster node ids.
//
// Notification ids come from a Generator; the default Sequence is a
// process-wide monotonically increasing counter. Node ids are random nanoid
// strings, hashed before they are handed to clients.
package idgen

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync/atomic"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Generator produces notification ids.
type Generator interface {
	Generate() string
}

// Sequence is a Generator returning "1", "2", "3", ... It is safe for
// concurrent use.
type Sequence struct {
	next atomic.Uint64
}

// NewSequence returns a Sequence whose first id is start.
func NewSequence(start uint64) *Sequence {
	s := &Sequence{}
	s.next.Store(start)
	return s
}

// Generate returns the next id.
func (s *Sequence) Generate() string {
	return strconv.FormatUint(s.next.Add(1)-1, 10)
}

// Set makes n the next id returned.
func (s *Sequence) Set(n uint64) {
	s.next.Store(n)
}

// NodePrefix is prepended to generated node ids.
var NodePrefix = "node-"

// Alphabet defines the character set used for the random portion of node ids.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 10

// GenerateNodeID returns a new random node id using the default prefix.
func GenerateNodeID() (string, error) {
	return GenerateWithPrefix(NodePrefix)
}

// GenerateWithPrefix returns a new random id with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// HashNodeID returns the base64 SHA-256 of a node id. Node ids travel to
// browsers and may contain host names, so only the hash is exposed.
func HashNodeID(nodeID string) string {
	sum := sha256.Sum256([]byte(nodeID))
	return base64.StdEncoding.EncodeToString(sum[:])
}
