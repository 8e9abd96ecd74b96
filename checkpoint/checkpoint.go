// Package checkpoint stores the state of an unfinished inference in a
// bolt database so that an interrupted run can be resumed.
package checkpoint

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"time"

	"github.com/op/go-logging"

	bolt "go.etcd.io/bbolt"
)

// log is the global logging variable.
var log = logging.MustGetLogger("checkpoint")

// MAIN is the bucket name for all the checkpoints.
var MAIN = []byte("main")

// CheckpointData stores checkpoint data.
type CheckpointData struct {
	// RunID identifies the run which saved the checkpoint.
	RunID string
	// Parameters are the model parameters and the priors.
	Parameters map[string]float64
	Likelihood float64
	// Iter is the number of finished outer iterations.
	Iter  int
	Final bool
	// Seed initializes the random numbers of a resumed run.
	Seed int64
}

// CheckpointIO reads and writes checkpoints under a single key.
type CheckpointIO struct {
	db      *bolt.DB
	key     []byte
	last    time.Time
	seconds float64
}

// Key computes a checkpoint key from the settings which determine
// the inference result, e.g. input files and the number of
// haplotypes.
func Key(settings ...interface{}) []byte {
	h := sha1.New()
	for _, s := range settings {
		fmt.Fprintf(h, "%v\x00", s)
	}
	return []byte(fmt.Sprintf("%x", h.Sum(nil)))
}

// NewCheckpointIO creates a new CheckpointIO. A checkpoint is
// considered old after the given number of seconds.
func NewCheckpointIO(db *bolt.DB, key []byte, seconds float64) (s *CheckpointIO) {
	s = &CheckpointIO{
		db:      db,
		key:     key,
		seconds: seconds,
	}
	s.SetNow()
	return
}

// Open opens (or creates) the checkpoint database.
func Open(fn string) (*bolt.DB, error) {
	return bolt.Open(fn, 0600, &bolt.Options{Timeout: time.Second})
}

// Save saves the checkpoint.
func (s *CheckpointIO) Save(data *CheckpointData) error {
	// Even if saving fails, we do not want to run this code too often.
	s.SetNow()
	dataB, err := json.Marshal(data)
	if err != nil {
		log.Error("Error serializing checkpoint", err)
		return err
	}
	err = SaveData(s.db, s.key, dataB)
	if err != nil {
		log.Error("Error saving checkpoint", err)
		return err
	}
	log.Debugf("Checkpoint saved (iter=%v, lnL=%v, final=%v)", data.Iter, data.Likelihood, data.Final)
	return nil
}

// GetParameters returns the stored checkpoint or nil if there is none.
func (s *CheckpointIO) GetParameters() (*CheckpointData, error) {
	var data *CheckpointData

	b, err := LoadData(s.db, s.key)

	if err != nil || b == nil {
		return nil, err
	}

	err = json.Unmarshal(b, &data)

	if err != nil {
		return nil, err
	}

	if data == nil || len(data.Parameters) == 0 {
		return nil, nil
	}

	if data.Final {
		log.Noticef("Found finished inference checkpoint (iter=%v, lnL=%v)", data.Iter, data.Likelihood)
	} else {
		log.Noticef("Found unfinished inference checkpoint (iter=%v, lnL=%v)", data.Iter, data.Likelihood)
	}

	return data, nil
}

// Old returns true if last checkpoint save time too long ago.
func (s *CheckpointIO) Old() bool {
	return time.Since(s.last).Seconds() > s.seconds
}

// SetNow sets last checkpoint time to now.
func (s *CheckpointIO) SetNow() {
	s.last = time.Now()
}

// SaveData saves values in bolt database.
func SaveData(db *bolt.DB, key []byte, data []byte) error {
	if db == nil {
		return nil
	}
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(MAIN)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// LoadData loads data from bolt database.
func LoadData(db *bolt.DB, key []byte) ([]byte, error) {
	var data []byte
	if db == nil {
		return nil, nil
	}
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(MAIN)
		if b == nil {
			return nil
		}

		// v is only valid within the transaction
		v := b.Get(key)
		if v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
