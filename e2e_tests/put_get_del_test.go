package e2etests

import (
	"slices"
	"strings"

	"github.com/RichardKnop/minikv"
)

func (s *TestSuite) TestPutGetDel() {
	s.Require().NoError(s.db.Put(s.ctx, []byte("foo"), []byte("bar")))

	value, err := s.db.GetString(s.ctx, []byte("foo"))
	s.Require().NoError(err)
	s.Equal("bar", value)

	s.Require().NoError(s.db.Delete(s.ctx, []byte("foo")))

	_, err = s.db.Get(s.ctx, []byte("foo"))
	s.ErrorIs(err, minikv.ErrNotFound)
	s.Equal("MDB_NOTFOUND: No matching key/data pair found", err.Error())
}

func (s *TestSuite) TestManyRecords() {
	toInsert := records(2000)

	batch := s.db.NewBatch()
	for _, aRecord := range toInsert {
		batch.Put([]byte(aRecord.Key), []byte(aRecord.Value))
	}
	s.Require().NoError(batch.Write(s.ctx))

	s.Run("Reopen to force reads from disk", func() {
		s.reopen()

		for _, aRecord := range toInsert {
			value, err := s.db.GetString(s.ctx, []byte(aRecord.Key))
			s.Require().NoError(err)
			s.Equal(aRecord.Value, value)
		}
	})

	s.Run("Iterate in key order", func() {
		it, err := s.db.NewIterator(minikv.IteratorOptions{})
		s.Require().NoError(err)
		defer it.Close()

		var keys []string
		for {
			key, _, err := it.Next()
			if err != nil {
				s.Require().ErrorIs(err, minikv.ErrIteratorEnd)
				break
			}
			keys = append(keys, string(key))
		}

		expected := make([]string, 0, len(toInsert))
		for _, aRecord := range toInsert {
			expected = append(expected, aRecord.Key)
		}
		slices.SortFunc(expected, strings.Compare)
		s.Equal(expected, keys)
	})

	s.Run("Delete half", func() {
		batch := s.db.NewBatch()
		for _, aRecord := range toInsert[:1000] {
			batch.Del([]byte(aRecord.Key))
		}
		s.Require().NoError(batch.Write(s.ctx))

		stat, err := s.db.Stat()
		s.Require().NoError(err)
		s.Equal(uint64(1000), stat.Entries)

		_, err = s.db.Get(s.ctx, []byte(toInsert[0].Key))
		s.ErrorIs(err, minikv.ErrNotFound)
	})
}
