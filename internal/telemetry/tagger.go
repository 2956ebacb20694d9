package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"dlctelemetry/internal/hostprobe"
	"dlctelemetry/internal/imds"
)

const (
	// TagKeyAMI marks AMI-class images (image type contains "ami").
	TagKeyAMI = "aws-dlami-autogenerated-tag-do-not-delete"
	// TagKeyContainer marks container images.
	TagKeyContainer = "aws-dlc-autogenerated-tag-do-not-delete"
)

// TagClient is the slice of the EC2 API the tagger needs.
type TagClient interface {
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
}

// Tagger applies one descriptive tag to the running instance through the
// EC2 control plane, using whatever credentials the environment grants.
type Tagger struct {
	Config   Config
	Identity imds.Identity
	Host     hostprobe.Descriptor

	// NewClient builds a region-scoped EC2 client; nil uses the default
	// credential chain.
	NewClient func(ctx context.Context, region string) (TagClient, error)
	Artifacts *ArtifactWriter // nil disables artifacts
}

// Run applies the tag and returns a short status for logging. Control
// plane failures are logged and reported as a status, never raised.
func (t *Tagger) Run(ctx context.Context) string {
	if !t.Identity.Complete() {
		slog.Error("instance tagging skipped: failed to resolve instance id or region")
		return "skipped"
	}

	key, value := t.TagKey(), t.TagValue()

	newClient := t.NewClient
	if newClient == nil {
		newClient = defaultTagClient
	}
	client, err := newClient(ctx, t.Identity.Region)
	if err != nil {
		slog.Error("ec2 client setup failed", "err", err)
		return "error"
	}

	_, err = client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{t.Identity.InstanceID},
		Tags: []ec2types.Tag{{
			Key:   aws.String(key),
			Value: aws.String(value),
		}},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			slog.Error("create tags refused", "code", apiErr.ErrorCode(), "message", apiErr.ErrorMessage())
		} else {
			slog.Error("create tags failed", "err", err)
		}
		return "error"
	}

	t.Artifacts.WriteTagPayload(key, value)
	slog.Debug("instance tagged", "key", key)
	return "ok"
}

// TagKey selects between the AMI and container key names by whether the
// image type names an AMI-class image.
func (t *Tagger) TagKey() string {
	if strings.Contains(string(t.Config.ImageType), "ami") {
		return TagKeyAMI
	}
	return TagKeyContainer
}

// TagValue renders the descriptive tag. The CUDA suffix appears only on
// gpu hosts; every other field is always present, empty or not.
func (t *Tagger) TagValue() string {
	cudaSuffix := ""
	if t.Host.DeviceClass == hostprobe.DeviceGPU {
		cudaSuffix = "_cuda" + t.Host.AcceleratorVersion
	}
	return fmt.Sprintf("%s_%s_%s_python%s_%s%s_%s_%s",
		t.Config.Framework,
		t.Config.ImageType,
		t.Config.FrameworkVersion,
		t.Host.PythonVersion,
		t.Host.DeviceClass,
		cudaSuffix,
		t.Host.OSLabel,
		t.Config.PackageType,
	)
}

func defaultTagClient(ctx context.Context, region string) (TagClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return ec2.NewFromConfig(cfg), nil
}
