package repos

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/affirmly/scribesync/internal/db/models"
)

// DBRepositoryTestSuite provides a base test suite for repository tests
type DBRepositoryTestSuite struct {
	suite.Suite
	db      *gorm.DB
	ctx     context.Context
	jobRepo *JobRepository
	nextID  int
}

func (s *DBRepositoryTestSuite) SetupTest() {
	// Create new in-memory database
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err, "Failed to create in-memory database")

	err = db.AutoMigrate(&models.Job{})
	require.NoError(s.T(), err, "Failed to run database migrations")

	s.db = db
	s.ctx = context.Background()
	s.jobRepo = NewJobRepository(db)
}

// newJobID generates a unique job id for the test
func (s *DBRepositoryTestSuite) newJobID() string {
	s.nextID++
	return fmt.Sprintf("job-%04d", s.nextID)
}

// createTestJob creates a pending job owned by owner-a
func (s *DBRepositoryTestSuite) createTestJob() *models.Job {
	job, err := s.jobRepo.Create(s.ctx, s.newJobID(), "owner-a", "meeting.wav", 2048)
	s.Require().NoError(err)
	return job
}
