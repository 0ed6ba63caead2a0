package journal

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/dominodatalab/stevedore/internal/config"
	"github.com/dominodatalab/stevedore/internal/report"
	"github.com/dominodatalab/stevedore/internal/util"
)

var outcomesBucket = []byte("outcomes")

// Journal records deployment outcomes in a local bolt database so
// operators can review what was shipped from this machine.
type Journal struct {
	path string
}

func New(path string) *Journal {
	return &Journal{path: path}
}

// DefaultPath is the journal location used when no override is given.
func DefaultPath() string {
	return filepath.Join(config.GetStateDir(), "journal.db")
}

// Record appends one outcome. The database is opened per call so
// concurrent stevedore invocations on the same machine only contend for
// the duration of the write.
func (j *Journal) Record(outcome *report.Outcome) error {
	if err := util.EnsureDir(filepath.Dir(j.path)); err != nil {
		return errors.Wrap(err, "creating journal directory")
	}

	db, err := bolt.Open(j.path, 0644, nil)
	if err != nil {
		return errors.Wrap(err, "opening journal")
	}
	defer db.Close()

	data, err := json.Marshal(outcome)
	if err != nil {
		return errors.Wrap(err, "encoding journal record")
	}

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(outcomesBucket)
		if err != nil {
			return err
		}
		return b.Put(recordKey(outcome), data)
	})
}

// recordKey orders records chronologically under lexicographic iteration.
// The fixed-width fractional second keeps sub-second siblings sorted.
func recordKey(outcome *report.Outcome) []byte {
	stamp := outcome.CompletedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
	return []byte(stamp + "/" + outcome.ID)
}

// List returns recorded outcomes, newest first. A non-empty service
// restricts results to workloads with that name, and a positive limit
// caps how many are returned.
func (j *Journal) List(service string, limit int) ([]report.Outcome, error) {
	if _, err := os.Stat(j.path); os.IsNotExist(err) {
		// Nothing has been recorded yet, so there is no history to report.
		return nil, nil
	}

	// Since we are only listing we can open it as read-only.
	db, err := bolt.Open(j.path, 0644, &bolt.Options{ReadOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, "opening journal")
	}
	defer db.Close()

	var outcomes []report.Outcome
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(outcomesBucket)
		if b == nil {
			return nil
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var o report.Outcome
			if err := json.Unmarshal(v, &o); err != nil {
				return errors.Wrapf(err, "decoding journal record %q", k)
			}

			if service != "" && o.Name != service {
				continue
			}

			outcomes = append(outcomes, o)
			if limit > 0 && len(outcomes) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return outcomes, nil
}
