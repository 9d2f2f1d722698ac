package aoi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/paulmach/orb"
)

const geojsonExt = ".geojson"

// AssetStore holds boundary assets addressed by slash-separated paths such
// as "projects/ee-sensingclues-timeseries/assets/Zambia_boundary".
type AssetStore interface {
	List(ctx context.Context, folder string) ([]string, error)
	Load(ctx context.Context, asset string) (orb.Geometry, error)
}

// ErrAssetNotFound is returned by Load when the asset does not exist.
var ErrAssetNotFound = errors.New("asset not found")

func assetFile(asset string) string {
	if strings.HasSuffix(asset, geojsonExt) {
		return asset
	}
	return asset + geojsonExt
}

// LocalAssetStore keeps one GeoJSON file per asset below a root directory.
type LocalAssetStore struct {
	root string
}

var _ AssetStore = (*LocalAssetStore)(nil)

func NewLocalAssetStore(root string) *LocalAssetStore {
	return &LocalAssetStore{root: root}
}

func (s *LocalAssetStore) List(_ context.Context, folder string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, filepath.FromSlash(folder)))
	if err != nil {
		return nil, fmt.Errorf("failed to list assets in %s: %w", folder, err)
	}
	var assets []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), geojsonExt) {
			continue
		}
		assets = append(assets, path.Join(folder, strings.TrimSuffix(entry.Name(), geojsonExt)))
	}
	sort.Strings(assets)
	return assets, nil
}

func (s *LocalAssetStore) Load(_ context.Context, asset string) (orb.Geometry, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(assetFile(asset))))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read asset %s: %w", asset, err)
	}
	boundary, err := ParseBoundary(data)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", asset, err)
	}
	return boundary, nil
}

type s3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3AssetStore keeps one GeoJSON object per asset in a bucket.
type S3AssetStore struct {
	client s3API
	bucket string
}

var _ AssetStore = (*S3AssetStore)(nil)

func NewS3AssetStore(client s3API, bucket string) *S3AssetStore {
	return &S3AssetStore{client: client, bucket: bucket}
}

func (s *S3AssetStore) List(ctx context.Context, folder string) ([]string, error) {
	prefix := strings.TrimSuffix(folder, "/") + "/"
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var assets []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects in bucket %s with prefix %s: %w", s.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, geojsonExt) {
				assets = append(assets, strings.TrimSuffix(key, geojsonExt))
			}
		}
	}
	sort.Strings(assets)
	return assets, nil
}

func (s *S3AssetStore) Load(ctx context.Context, asset string) (orb.Geometry, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(assetFile(asset)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", s.bucket, assetFile(asset), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", s.bucket, assetFile(asset), err)
	}
	boundary, err := ParseBoundary(data)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", asset, err)
	}
	return boundary, nil
}
