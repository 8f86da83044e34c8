package e2etests

import (
	"fmt"
	"sync"

	"github.com/RichardKnop/minikv"
)

func (s *TestSuite) TestConcurrency() {
	toInsert := records(1000)
	for _, aRecord := range toInsert {
		s.Require().NoError(s.db.Put(s.ctx, []byte(aRecord.Key), []byte(aRecord.Value)))
	}

	s.Run("Concurrent readers and writers", func() {
		var (
			wg     sync.WaitGroup
			errs   = make(chan error, 100)
			limit  = make(chan struct{}, 20) // limit concurrency to 20 goroutines
			writes = 50
		)

		for i := range toInsert {
			wg.Add(1)
			limit <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-limit }()

				value, err := s.db.GetString(s.ctx, []byte(toInsert[i].Key))
				if err != nil {
					errs <- err
					return
				}
				if value != toInsert[i].Value {
					errs <- fmt.Errorf("key %s: got %q, want %q", toInsert[i].Key, value, toInsert[i].Value)
				}
			}()
		}

		for i := 0; i < writes; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.db.Put(s.ctx, []byte(fmt.Sprintf("writer:%03d", i)), []byte("x")); err != nil {
					errs <- err
				}
			}()
		}

		wg.Wait()
		close(errs)
		for err := range errs {
			s.NoError(err)
		}

		stat, err := s.db.Stat()
		s.Require().NoError(err)
		s.Equal(uint64(len(toInsert)+writes), stat.Entries)
	})

	s.Run("Readers keep their snapshot", func() {
		tx, err := s.db.BeginRead()
		s.Require().NoError(err)
		defer tx.Close()

		s.Require().NoError(s.db.Update(s.ctx, func(wtx *minikv.WriteTx) error {
			for _, aRecord := range toInsert {
				if err := wtx.Delete([]byte(aRecord.Key)); err != nil {
					return err
				}
			}
			return nil
		}))

		for _, aRecord := range toInsert[:100] {
			value, err := tx.Get([]byte(aRecord.Key))
			s.Require().NoError(err)
			s.Equal(aRecord.Value, string(value))
		}

		_, err = s.db.Get(s.ctx, []byte(toInsert[0].Key))
		s.ErrorIs(err, minikv.ErrNotFound)
	})
}
