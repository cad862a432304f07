package tracker

import "crypto/rand"

// referencePeerID is the fixed 20-byte client id the reference
// implementation announces with. A random 20-byte value is an equally
// valid choice per BEP 20; GeneratePeerID uses the fixed form so runs are
// reproducible for tests and tracker-side debugging.
const referencePeerID = "-THARUN-easteregglol"

// GeneratePeerID returns the client's 20-byte peer id.
func GeneratePeerID() [20]byte {
	var id [20]byte
	copy(id[:], referencePeerID)
	return id
}

// GenerateRandomPeerID returns a random 20-byte peer id, for callers that
// want to avoid announcing a fixed, identifiable client string.
func GenerateRandomPeerID() ([20]byte, error) {
	var id [20]byte
	_, err := rand.Read(id[:])
	return id, err
}
