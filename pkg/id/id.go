package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID stamped with the wall clock.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a ULID stamped with t. Replays stamp ids with simulated
// time so positions sort by when they happened in the market.
func NewAt(t time.Time) string {
	if t.Unix() < 0 {
		t = time.Now()
	}
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t.UTC()), mono)
	if err != nil {
		// monotonic entropy overflowed within one millisecond
		id = ulid.MustNew(ulid.Timestamp(t.UTC()), cryptoRand.Reader)
	}
	return id.String()
}

// Exec builds the synthetic execution id for the seq-th fill of a run.
func Exec(runID string, seq int64) string {
	return fmt.Sprintf("%s.%06d", runID, seq)
}

// Time extracts the timestamp of a ULID string.
func Time(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()).UTC(), nil
}
