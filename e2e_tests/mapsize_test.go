package e2etests

import (
	"bytes"
	"fmt"

	"github.com/RichardKnop/minikv"
)

func (s *TestSuite) putMegabytes(n int) int {
	value := bytes.Repeat([]byte("0"), 1<<20)

	failures := 0
	for i := 0; i < n; i++ {
		err := s.db.Put(s.ctx, []byte(fmt.Sprintf("key%d", i)), value)
		if err != nil {
			s.Require().ErrorIs(err, minikv.ErrMapFull)
			failures++
		}
	}
	return failures
}

func (s *TestSuite) TestMapSize() {
	s.Run("Default map size fills up", func() {
		failures := s.putMegabytes(20)
		s.Greater(failures, 8)
		s.LessOrEqual(failures, 11)
	})

	s.Run("Larger map size", func() {
		s.Require().NoError(s.db.Close())
		s.path = s.path + "-large"
		s.db = s.open(minikv.WithMapSize(25 << 20))

		s.Equal(0, s.putMegabytes(20))
	})

	s.Run("Auto grow", func() {
		s.Require().NoError(s.db.Close())
		s.path = s.path + "-grow"
		s.db = s.open(minikv.WithAutoGrow(0))

		s.Equal(0, s.putMegabytes(20))

		stat, err := s.db.Stat()
		s.Require().NoError(err)
		s.Greater(stat.MapSize, int64(minikv.DefaultMapSize))
	})
}
