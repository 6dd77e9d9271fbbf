package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cloudomate/objectio/pkg/block"
	"github.com/cloudomate/objectio/pkg/client"
	"github.com/cloudomate/objectio/pkg/meta"
	"github.com/cloudomate/objectio/pkg/rpc"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a cluster resource manifest",
	Long: `Apply a bucket, user, access-key, or bucket-policy manifest against
the metadata service, or a volume manifest against a block gateway.

Examples:
  # Create or update a bucket
  objectio-admin apply -f bucket.yaml

  # Grant a user an access key
  objectio-admin apply -f access-key.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	applyCmd.Flags().String("manager", "127.0.0.1:7100", "MetadataService address")
	applyCmd.Flags().String("block-gateway", "127.0.0.1:7300", "BlockService address, used by Volume manifests")
	_ = applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}

// resourceManifest is the generic envelope every applied resource shares:
// a kind selecting which RPCs to call, and a spec whose fields depend on
// that kind.
type resourceManifest struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   resourceMetadata       `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

type resourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	managerAddr, _ := cmd.Flags().GetString("manager")
	blockGatewayAddr, _ := cmd.Flags().GetString("block-gateway")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var resource resourceManifest
	if err := yaml.Unmarshal(data, &resource); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}

	pool := client.NewPool(nil)
	defer pool.Close()

	if resource.Kind == "Volume" {
		bc, err := pool.Block(blockGatewayAddr)
		if err != nil {
			return fmt.Errorf("connect to block gateway: %w", err)
		}
		return applyVolume(bc, &resource)
	}

	mc, err := pool.Metadata(managerAddr)
	if err != nil {
		return fmt.Errorf("connect to metadata service: %w", err)
	}

	switch resource.Kind {
	case "Bucket":
		return applyBucket(mc, &resource)
	case "BucketPolicy":
		return applyBucketPolicy(mc, &resource)
	case "User":
		return applyUser(mc, &resource)
	case "AccessKey":
		return applyAccessKey(mc, &resource)
	default:
		return fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}
}

func applyBucket(mc rpc.MetadataClient, resource *resourceManifest) error {
	name := resource.Metadata.Name
	owner := getString(resource.Spec, "owner", "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := mc.CreateBucket(ctx, &rpc.CreateBucketRequest{Bucket: meta.Bucket{
		Name:      name,
		Owner:     owner,
		CreatedAt: time.Now().Unix(),
	}})
	if err != nil {
		return fmt.Errorf("create bucket %s: %w", name, err)
	}
	fmt.Printf("bucket applied: %s\n", name)
	return nil
}

func applyBucketPolicy(mc rpc.MetadataClient, resource *resourceManifest) error {
	bucket := resource.Metadata.Name
	document := getString(resource.Spec, "document", "")
	if document == "" {
		return fmt.Errorf("bucket policy document is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := mc.SetBucketPolicy(ctx, &rpc.SetBucketPolicyRequest{Policy: meta.BucketPolicy{
		Bucket:   bucket,
		Document: document,
	}})
	if err != nil {
		return fmt.Errorf("set policy on bucket %s: %w", bucket, err)
	}
	fmt.Printf("bucket policy applied: %s\n", bucket)
	return nil
}

func applyUser(mc rpc.MetadataClient, resource *resourceManifest) error {
	id := resource.Metadata.Name
	active := getBool(resource.Spec, "active", true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := mc.CreateUser(ctx, &rpc.CreateUserRequest{User: meta.User{
		Id:        id,
		Name:      id,
		Active:    active,
		CreatedAt: time.Now().Unix(),
	}})
	if err != nil {
		return fmt.Errorf("create user %s: %w", id, err)
	}
	fmt.Printf("user applied: %s\n", id)
	return nil
}

func applyAccessKey(mc rpc.MetadataClient, resource *resourceManifest) error {
	accessKeyId := resource.Metadata.Name
	userId := getString(resource.Spec, "userId", "")
	secret := getString(resource.Spec, "secretAccessKey", "")
	if userId == "" || secret == "" {
		return fmt.Errorf("access key requires spec.userId and spec.secretAccessKey")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := mc.CreateAccessKey(ctx, &rpc.CreateAccessKeyRequest{Key: meta.AccessKey{
		AccessKeyId:     accessKeyId,
		SecretAccessKey: secret,
		UserId:          userId,
		Active:          true,
		CreatedAt:       time.Now().Unix(),
	}})
	if err != nil {
		return fmt.Errorf("create access key %s: %w", accessKeyId, err)
	}
	fmt.Printf("access key applied: %s\n", accessKeyId)
	return nil
}

func applyVolume(bc rpc.BlockClient, resource *resourceManifest) error {
	name := resource.Metadata.Name
	sizeBytes := getInt(resource.Spec, "sizeBytes", 0)
	maxIOPS := getInt(resource.Spec, "maxIops", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := bc.CreateVolume(ctx, &rpc.CreateVolumeRequest{
		Name:      name,
		SizeBytes: int64(sizeBytes),
		Qos:       block.VolumeQosConfig{MaxIOPS: uint64(maxIOPS), Priority: block.PriorityNormal, TargetLatencyUs: 1000},
	})
	if err != nil {
		return fmt.Errorf("create volume %s: %w", name, err)
	}
	fmt.Printf("volume applied: %s (id=%s)\n", name, resp.Volume.Id)
	return nil
}

func getInt(m map[string]interface{}, key string, defaultValue int) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return defaultValue
}

func getString(m map[string]interface{}, key, defaultValue string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}

func getBool(m map[string]interface{}, key string, defaultValue bool) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultValue
}
