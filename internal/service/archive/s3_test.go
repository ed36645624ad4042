package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yerniteja1/deploykit/internal/domain"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(params.Body)
	f.inputs = append(f.inputs, params)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func sealedDeployment() domain.Deployment {
	finished := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return domain.Deployment{
		ID:         "dep-1",
		ProjectID:  "project-1",
		Status:     domain.DeploymentDeployed,
		Logs:       "[2024-05-01T12:00:00.000Z] one\n[2024-05-01T12:00:01.000Z] two",
		CreatedAt:  finished.Add(-time.Minute),
		FinishedAt: &finished,
	}
}

func TestArchiveUploadsLogs(t *testing.T) {
	fake := &fakePutter{}
	a := newS3(fake, "logs", "/deployments/", slog.New(slog.NewTextHandler(io.Discard, nil)))

	d := sealedDeployment()
	if err := a.Archive(context.Background(), d); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(fake.inputs) != 1 {
		t.Fatalf("expected one upload, got %d", len(fake.inputs))
	}
	in := fake.inputs[0]
	if aws.ToString(in.Bucket) != "logs" {
		t.Fatalf("unexpected bucket %q", aws.ToString(in.Bucket))
	}
	if aws.ToString(in.Key) != "deployments/project-1/dep-1.log" {
		t.Fatalf("unexpected key %q", aws.ToString(in.Key))
	}
	if fake.bodies[0] != d.Logs {
		t.Fatalf("unexpected body %q", fake.bodies[0])
	}
	if in.Metadata["status"] != domain.DeploymentDeployed {
		t.Fatalf("unexpected metadata %v", in.Metadata)
	}
}

func TestArchiveRejectsUnsealedDeployment(t *testing.T) {
	fake := &fakePutter{}
	a := newS3(fake, "logs", "", nil)

	d := sealedDeployment()
	d.FinishedAt = nil
	if err := a.Archive(context.Background(), d); err == nil {
		t.Fatal("expected error for unsealed deployment")
	}
	if len(fake.inputs) != 0 {
		t.Fatal("unsealed deployment must not be uploaded")
	}
}

func TestArchiveWrapsUploadError(t *testing.T) {
	boom := errors.New("boom")
	a := newS3(&fakePutter{err: boom}, "logs", "", nil)

	if err := a.Archive(context.Background(), sealedDeployment()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped upload error, got %v", err)
	}
}

func TestNewS3RequiresBucket(t *testing.T) {
	if _, err := NewS3(context.Background(), Config{Region: "auto"}, nil); !errors.Is(err, ErrMissingBucket) {
		t.Fatalf("expected missing bucket error, got %v", err)
	}
}
