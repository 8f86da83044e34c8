package e2etests

import (
	"github.com/RichardKnop/minikv"
)

// openIterators starts n iterators and advances each once so every one
// holds a reader slot.
func (s *TestSuite) openIterators(n int) []*minikv.Iterator {
	iterators := make([]*minikv.Iterator, 0, n)
	for i := 0; i < n; i++ {
		it, err := s.db.NewIterator(minikv.IteratorOptions{})
		s.Require().NoError(err)
		_, _, err = it.Next()
		s.Require().NoError(err)
		iterators = append(iterators, it)
	}
	return iterators
}

func (s *TestSuite) closeIterators(iterators []*minikv.Iterator) {
	for _, it := range iterators {
		s.Require().NoError(it.Close())
	}
}

func (s *TestSuite) TestMaxReaders() {
	s.Require().NoError(s.db.Put(s.ctx, []byte("foo"), []byte("bar")))

	s.Run("Default reader table saturates", func() {
		iterators := s.openIterators(minikv.DefaultMaxReaders)
		defer s.closeIterators(iterators)

		_, err := s.db.NewIterator(minikv.IteratorOptions{})
		s.ErrorIs(err, minikv.ErrReadersFull)
		_, err = s.db.Get(s.ctx, []byte("foo"))
		s.ErrorIs(err, minikv.ErrReadersFull)

		// writers do not need a reader slot
		s.NoError(s.db.Put(s.ctx, []byte("foo"), []byte("baz")))
	})

	s.Run("Larger reader table", func() {
		s.reopen(minikv.WithMaxReaders(200))

		iterators := s.openIterators(minikv.DefaultMaxReaders)
		defer s.closeIterators(iterators)

		it, err := s.db.NewIterator(minikv.IteratorOptions{})
		s.Require().NoError(err)
		key, value, err := it.Next()
		s.Require().NoError(err)
		s.Equal([]byte("foo"), key)
		s.Equal([]byte("baz"), value)
		s.NoError(it.Close())
	})
}
