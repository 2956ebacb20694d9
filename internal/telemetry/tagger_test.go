package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"dlctelemetry/internal/hostprobe"
	"dlctelemetry/internal/imds"
)

type fakeTagClient struct {
	input *ec2.CreateTagsInput
	err   error
}

func (f *fakeTagClient) CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &ec2.CreateTagsOutput{}, nil
}

func testTagger(client TagClient) *Tagger {
	return &Tagger{
		Config: Config{
			Framework:        FrameworkPyTorch,
			FrameworkVersion: "1.13.0",
			ImageType:        ImageTraining,
			PackageType:      PackageConda,
		},
		Identity: imds.Identity{InstanceID: "i-0123456789abcdef0", Region: "us-east-1"},
		Host: hostprobe.Descriptor{
			DeviceClass:   hostprobe.DeviceCPU,
			OSLabel:       "ubuntu20.04",
			PythonVersion: "3.10.12",
		},
		NewClient: func(ctx context.Context, region string) (TagClient, error) {
			if region != "us-east-1" {
				return nil, errors.New("unexpected region " + region)
			}
			return client, nil
		},
	}
}

func TestTagValue(t *testing.T) {
	t.Run("gpu host carries cuda suffix", func(t *testing.T) {
		tg := testTagger(nil)
		tg.Host.DeviceClass = hostprobe.DeviceGPU
		tg.Host.AcceleratorVersion = "11.3"

		want := "pytorch_training_1.13.0_python3.10.12_gpu_cuda11.3_ubuntu20.04_conda"
		if got := tg.TagValue(); got != want {
			t.Errorf("TagValue() = %q, want %q", got, want)
		}
	})

	t.Run("cpu host has no cuda suffix", func(t *testing.T) {
		tg := testTagger(nil)
		want := "pytorch_training_1.13.0_python3.10.12_cpu_ubuntu20.04_conda"
		if got := tg.TagValue(); got != want {
			t.Errorf("TagValue() = %q, want %q", got, want)
		}
	})
}

func TestTagKey(t *testing.T) {
	tests := []struct {
		imgType ImageType
		want    string
	}{
		{imgType: ImageAMI, want: TagKeyAMI},
		{imgType: ImageDLAMI, want: TagKeyAMI},
		{imgType: ImageDocker, want: TagKeyContainer},
		{imgType: ImageTraining, want: TagKeyContainer},
		{imgType: ImageInference, want: TagKeyContainer},
	}
	for _, tt := range tests {
		tg := testTagger(nil)
		tg.Config.ImageType = tt.imgType
		if got := tg.TagKey(); got != tt.want {
			t.Errorf("TagKey() for %q = %q, want %q", tt.imgType, got, tt.want)
		}
	}
}

func TestTaggerRun(t *testing.T) {
	client := &fakeTagClient{}
	tg := testTagger(client)

	if got, want := tg.Run(context.Background()), "ok"; got != want {
		t.Fatalf("Run() = %q, want %q", got, want)
	}
	if client.input == nil {
		t.Fatal("CreateTags was not called")
	}
	if got, want := len(client.input.Resources), 1; got != want {
		t.Fatalf("Resources length = %d, want %d", got, want)
	}
	if got, want := client.input.Resources[0], "i-0123456789abcdef0"; got != want {
		t.Errorf("Resources[0] = %q, want %q", got, want)
	}
	if got, want := len(client.input.Tags), 1; got != want {
		t.Fatalf("Tags length = %d, want %d", got, want)
	}
	tag := client.input.Tags[0]
	if got, want := *tag.Key, TagKeyContainer; got != want {
		t.Errorf("tag key = %q, want %q", got, want)
	}
	if got, want := *tag.Value, tg.TagValue(); got != want {
		t.Errorf("tag value = %q, want %q", got, want)
	}
}

func TestTaggerSkipsOnIncompleteIdentity(t *testing.T) {
	client := &fakeTagClient{}
	tg := testTagger(client)
	tg.Identity = imds.Identity{InstanceID: "i-0123456789abcdef0"}
	tg.Artifacts = &ArtifactWriter{Dir: t.TempDir()}

	if got, want := tg.Run(context.Background()), "skipped"; got != want {
		t.Fatalf("Run() = %q, want %q", got, want)
	}
	if client.input != nil {
		t.Error("CreateTags called despite incomplete identity")
	}
	if _, err := os.Stat(filepath.Join(tg.Artifacts.Dir, tagArtifactName)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("artifact exists after a skip, stat err = %v", err)
	}
}

func TestTaggerSwallowsControlPlaneFailure(t *testing.T) {
	client := &fakeTagClient{err: errors.New("UnauthorizedOperation")}
	tg := testTagger(client)
	tg.Artifacts = &ArtifactWriter{Dir: t.TempDir()}

	if got, want := tg.Run(context.Background()), "error"; got != want {
		t.Fatalf("Run() = %q, want %q", got, want)
	}
	if _, err := os.Stat(filepath.Join(tg.Artifacts.Dir, tagArtifactName)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("artifact exists after a failed call, stat err = %v", err)
	}
}

func TestTaggerArtifact(t *testing.T) {
	client := &fakeTagClient{}
	tg := testTagger(client)
	tg.Artifacts = &ArtifactWriter{Dir: t.TempDir()}
	tg.Run(context.Background())

	data, err := os.ReadFile(filepath.Join(tg.Artifacts.Dir, tagArtifactName))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var payload struct {
		Key   string
		Value string
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("parse artifact: %v", err)
	}
	if payload.Key != tg.TagKey() {
		t.Errorf("artifact key = %q, want %q", payload.Key, tg.TagKey())
	}
	if payload.Value != tg.TagValue() {
		t.Errorf("artifact value = %q, want %q", payload.Value, tg.TagValue())
	}
}
