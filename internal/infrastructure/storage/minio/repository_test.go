package minio

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/GradeSim/internal/config"
	"github.com/turtacn/GradeSim/pkg/errors"
)

type RunArchiveTestSuite struct {
	suite.Suite
	api     *MockMinIOAPI
	client  *MinIOClient
	archive *RunArchive
	ctx     context.Context
}

func (s *RunArchiveTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.api = new(MockMinIOAPI)
	s.api.On("BucketExists", mock.Anything, "runs").Return(true, nil).Once()
	client, err := newMinIOClient(s.ctx, s.api, config.MinIOConfig{Bucket: "runs"}, nil)
	require.NoError(s.T(), err)
	s.client = client
	s.archive = NewRunArchive(client, nil)
}

func (s *RunArchiveTestSuite) TestArchive_Success() {
	s.api.On("FPutObject", mock.Anything, "runs", "run-1/realizations.csv", "/tmp/realizations.csv",
		mock.MatchedBy(func(o minio.PutObjectOptions) bool {
			return o.ContentType == "text/csv" && o.UserMetadata["run-id"] == "run-1"
		})).Return(minio.UploadInfo{Key: "run-1/realizations.csv", Size: 42}, nil)

	loc, err := s.archive.Archive(s.ctx, "run-1/realizations.csv", "/tmp/realizations.csv", "text/csv")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "s3://runs/run-1/realizations.csv", loc)
	s.api.AssertExpectations(s.T())
}

func (s *RunArchiveTestSuite) TestArchive_Errors() {
	_, err := s.archive.Archive(s.ctx, "", "/tmp/x", "text/csv")
	assert.True(s.T(), errors.IsCode(err, errors.ErrCodeValidation))

	s.api.On("FPutObject", mock.Anything, "runs", "run-1/x", "/tmp/x", mock.Anything).
		Return(minio.UploadInfo{}, fmt.Errorf("connection reset"))
	_, err = s.archive.Archive(s.ctx, "run-1/x", "/tmp/x", "")
	assert.True(s.T(), errors.IsCode(err, errors.CodeStorageError))
}

func (s *RunArchiveTestSuite) TestFetch_NotFound() {
	s.api.On("FGetObject", mock.Anything, "runs", "run-1/missing", "/tmp/out", mock.Anything).
		Return(minio.ErrorResponse{Code: "NoSuchKey"})
	err := s.archive.Fetch(s.ctx, "run-1/missing", "/tmp/out")
	assert.True(s.T(), errors.IsCode(err, errors.ErrCodeNotFound))
}

func (s *RunArchiveTestSuite) TestStat() {
	modified := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.api.On("StatObject", mock.Anything, "runs", "run-1/realizations.csv", mock.Anything).
		Return(minio.ObjectInfo{Key: "run-1/realizations.csv", Size: 7, ContentType: "text/csv", LastModified: modified}, nil)

	meta, err := s.archive.Stat(s.ctx, "run-1/realizations.csv")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), &ObjectMetadata{ObjectKey: "run-1/realizations.csv", Size: 7, ContentType: "text/csv", LastModified: modified}, meta)
}

func (s *RunArchiveTestSuite) TestListAndDeleteRun() {
	s.api.On("ListObjects", mock.Anything, "runs", minio.ListObjectsOptions{Prefix: "run-1/", Recursive: true}).
		Return(objectChan(minio.ObjectInfo{Key: "run-1/a.csv"}, minio.ObjectInfo{Key: "run-1/b.json"}))
	s.api.On("RemoveObject", mock.Anything, "runs", mock.Anything, mock.Anything).Return(nil)

	n, err := s.archive.DeleteRun(s.ctx, "run-1")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 2, n)
	s.api.AssertNumberOfCalls(s.T(), "RemoveObject", 2)
}

func (s *RunArchiveTestSuite) TestList_PropagatesError() {
	s.api.On("ListObjects", mock.Anything, "runs", mock.Anything).
		Return(objectChan(minio.ObjectInfo{Err: fmt.Errorf("access denied")}))
	_, err := s.archive.List(s.ctx, "")
	assert.Error(s.T(), err)
}

func (s *RunArchiveTestSuite) TestPresignedURL() {
	u, _ := url.Parse("https://minio.local/runs/run-1/a.csv?sig=x")
	s.api.On("PresignedGetObject", mock.Anything, "runs", "run-1/a.csv", time.Hour, url.Values(nil)).Return(u, nil)

	got, err := s.archive.PresignedURL(s.ctx, "run-1/a.csv", 0)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), u.String(), got)
}

func (s *RunArchiveTestSuite) TestClosedClient() {
	require.NoError(s.T(), s.client.Close())
	_, err := s.archive.Archive(s.ctx, "run-1/a.csv", "/tmp/a.csv", "text/csv")
	assert.ErrorIs(s.T(), err, ErrMinIOClientClosed)
}

func TestRunArchiveSuite(t *testing.T) {
	suite.Run(t, new(RunArchiveTestSuite))
}

func TestRunIDOf(t *testing.T) {
	assert.Equal(t, "run-1", runIDOf("run-1/realizations.csv"))
	assert.Equal(t, "run-1", runIDOf("run-1/sub/x"))
	assert.Equal(t, "", runIDOf("loose.csv"))
}
