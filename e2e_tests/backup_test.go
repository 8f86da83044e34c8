package e2etests

import (
	"path/filepath"

	"github.com/RichardKnop/minikv"
)

func (s *TestSuite) TestBackup() {
	toInsert := records(500)
	batch := s.db.NewBatch()
	for _, aRecord := range toInsert {
		batch.Put([]byte(aRecord.Key), []byte(aRecord.Value))
	}
	s.Require().NoError(batch.Write(s.ctx))

	for _, compress := range []bool{false, true} {
		s.Run(map[bool]string{false: "Plain", true: "Compressed"}[compress], func() {
			name := map[bool]string{false: "backup.mdb", true: "backup.mdb.xz"}[compress]
			backupPath := filepath.Join(s.dir, name)
			s.Require().NoError(s.db.Backup(s.ctx, backupPath, compress))

			restorePath := filepath.Join(s.dir, "restored-"+name)
			s.Require().NoError(minikv.Restore(s.ctx, backupPath, restorePath, false))

			restored, err := minikv.Open(restorePath, minikv.WithReadOnly(true), minikv.WithLogLevel("error"))
			s.Require().NoError(err)
			defer restored.Close()

			for _, aRecord := range toInsert {
				value, err := restored.GetString(s.ctx, []byte(aRecord.Key))
				s.Require().NoError(err)
				s.Equal(aRecord.Value, value)
			}

			original, err := s.db.Stat()
			s.Require().NoError(err)
			copied, err := restored.Stat()
			s.Require().NoError(err)
			s.Equal(original.StoreID, copied.StoreID)
			s.Equal(original.Entries, copied.Entries)
		})
	}
}
