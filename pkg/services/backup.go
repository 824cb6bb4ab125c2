// pkg/services/backup.go
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	cfg "image-optimizer/config"
	"image-optimizer/pkg/interfaces"
	"image-optimizer/pkg/utils"

	gcs "cloud.google.com/go/storage"
	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Backup providers
const (
	ProviderAWS   = "aws"
	ProviderGCP   = "gcp"
	ProviderAzure = "azure"
)

// BackupService copies the cache tree (entries and sidecars) to object storage
type BackupService struct {
	cache             interfaces.CacheServiceInterface
	config            *cfg.Config
	log               *utils.Logger
	provider          string
	awsSession        *session.Session
	s3Client          *s3.S3
	gcsClient         *gcs.Client
	azureContainerURL azblob.ContainerURL
}

// NewBackupService returns nil, nil when backup is disabled or no provider is configured
func NewBackupService(config *cfg.Config, cache interfaces.CacheServiceInterface, log *utils.Logger) (*BackupService, error) {
	if config == nil {
		return nil, fmt.Errorf("❌ invalid configuration: config is nil")
	}
	if log == nil {
		return nil, fmt.Errorf("❌ logger is nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("❌ cache service is nil")
	}

	if !config.Backup.Enabled {
		log.WithFunc().Info("Backup is disabled")
		return nil, nil
	}

	srv := &BackupService{
		cache:    cache,
		config:   config,
		log:      log,
		provider: resolveProvider(config.Backup),
	}

	secrets := cfg.LoadSecrets()
	switch srv.provider {
	case ProviderAWS:
		if err := srv.initAWSClient(secrets.AWSAccessKeyID, secrets.AWSSecretAccessKey); err != nil {
			return nil, fmt.Errorf("❌ failed to initialize AWS client: %w", err)
		}
	case ProviderGCP:
		if err := srv.initGCPClient(secrets.GCPCredentialsFile); err != nil {
			return nil, fmt.Errorf("❌ failed to initialize GCP client: %w", err)
		}
	case ProviderAzure:
		if err := srv.initAzureClient(secrets.AzureStorageAccountKey); err != nil {
			return nil, fmt.Errorf("❌ failed to initialize Azure client: %w", err)
		}
	default:
		log.WithFunc().Info("No backup provider configured")
		return nil, nil
	}

	log.WithFunc().WithField("provider", srv.provider).Info("Backup is enabled")
	return srv, nil
}

// resolveProvider uses the explicit provider, or the first backend with a bucket
func resolveProvider(b cfg.Backup) string {
	switch strings.ToLower(b.Provider) {
	case ProviderAWS, ProviderGCP, ProviderAzure:
		return strings.ToLower(b.Provider)
	}
	switch {
	case b.AWS.Bucket != "":
		return ProviderAWS
	case b.GCP.Bucket != "":
		return ProviderGCP
	case b.Azure.Container != "":
		return ProviderAzure
	}
	return ""
}

// Provider returns the active backend name
func (s *BackupService) Provider() string {
	return s.provider
}

func (s *BackupService) initAWSClient(accessKey, secretKey string) error {
	s.log.WithFunc().WithFields(logrus.Fields{
		"region": s.config.Backup.AWS.Region,
		"bucket": s.config.Backup.AWS.Bucket,
	}).Debug("Initializing AWS client")

	if s.config.Backup.AWS.Bucket == "" {
		return fmt.Errorf("AWS bucket name is not configured")
	}
	if accessKey == "" || secretKey == "" {
		return fmt.Errorf("AWS credentials not provided")
	}
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(s.config.Backup.AWS.Region),
		Credentials: credentials.NewStaticCredentials(accessKey, secretKey, ""),
	})
	if err != nil {
		return fmt.Errorf("failed to create AWS session: %w", err)
	}

	s.awsSession = sess
	s.s3Client = s3.New(sess)
	return nil
}

func (s *BackupService) initGCPClient(credentialsFile string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.config.Backup.GCP.Bucket == "" {
		return fmt.Errorf("GCP bucket name is not configured")
	}
	if s.config.Backup.GCP.ProjectID == "" {
		return fmt.Errorf("GCP project ID is not configured")
	}
	if credentialsFile == "" {
		return fmt.Errorf("GCP credentials file path not provided")
	}
	if _, err := os.Stat(credentialsFile); err != nil {
		s.log.WithFunc().WithError(err).WithField("credentialsPath", credentialsFile).Error("Credentials file check failed")
		return fmt.Errorf("credentials file not found: %w", err)
	}

	client, err := gcs.NewClient(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return fmt.Errorf("failed to create GCP client: %w", err)
	}

	attrs, err := client.Bucket(s.config.Backup.GCP.Bucket).Attrs(ctx)
	if err != nil {
		client.Close()
		if errors.Is(err, gcs.ErrBucketNotExist) {
			return fmt.Errorf("bucket %s does not exist in project %s", s.config.Backup.GCP.Bucket, s.config.Backup.GCP.ProjectID)
		}
		return fmt.Errorf("failed to access bucket %s: %w", s.config.Backup.GCP.Bucket, err)
	}

	s.log.WithFunc().WithFields(logrus.Fields{
		"bucket":   s.config.Backup.GCP.Bucket,
		"location": attrs.Location,
	}).Info("Successfully connected to GCP bucket")

	s.gcsClient = client
	return nil
}

func (s *BackupService) initAzureClient(accountKey string) error {
	az := s.config.Backup.Azure
	s.log.WithFunc().WithFields(logrus.Fields{
		"storageAccount": az.StorageAccount,
		"container":      az.Container,
	}).Debug("Initializing Azure client")

	if az.StorageAccount == "" {
		return fmt.Errorf("Azure storage account name is not configured")
	}
	if az.Container == "" {
		return fmt.Errorf("Azure container name is not configured")
	}
	if accountKey == "" {
		return fmt.Errorf("Azure storage account key not provided")
	}

	credential, err := azblob.NewSharedKeyCredential(az.StorageAccount, accountKey)
	if err != nil {
		return fmt.Errorf("failed to create Azure credentials: %w", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	containerURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net/%s", az.StorageAccount, az.Container))
	if err != nil {
		return fmt.Errorf("failed to parse container URL: %w", err)
	}
	s.azureContainerURL = azblob.NewContainerURL(*containerURL, pipeline)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.azureContainerURL.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		// Création du container s'il n'existe pas
		var storageErr azblob.StorageError
		if errors.As(err, &storageErr) && storageErr.ServiceCode() == azblob.ServiceCodeContainerNotFound {
			s.log.WithFunc().WithField("container", az.Container).Info("Container does not exist, creating it")
			if _, err := s.azureContainerURL.Create(ctx, azblob.Metadata{}, azblob.PublicAccessNone); err != nil {
				return fmt.Errorf("failed to create container %s: %w", az.Container, err)
			}
		} else {
			return fmt.Errorf("failed to access Azure container %s: %w", az.Container, err)
		}
	}

	s.log.WithFunc().WithField("container", az.Container).Info("Successfully connected to Azure Blob Storage")
	return nil
}

// objectKey maps a cache-relative path to the remote object name
func (s *BackupService) objectKey(rel string) string {
	return path.Join(s.config.Backup.Prefix, filepath.ToSlash(rel))
}

// restoreTarget maps a remote object name back under the cache root.
// Objects outside the prefix or escaping the root are rejected.
func restoreTarget(root, prefix, objectName string) (string, bool) {
	rel := objectName
	if prefix != "" {
		p := strings.TrimSuffix(prefix, "/") + "/"
		if !strings.HasPrefix(objectName, p) {
			return "", false
		}
		rel = strings.TrimPrefix(objectName, p)
	}
	rel = path.Clean("/" + rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || rel == "." || utils.IsTempFile(rel) {
		return "", false
	}
	return filepath.Join(root, filepath.FromSlash(rel)), true
}

// walkCache calls fn for every entry and sidecar below the cache root
func (s *BackupService) walkCache(fn func(rel, fullPath string, info os.FileInfo) error) error {
	sourcePath := s.cache.GetBasePath()
	if _, err := os.Stat(sourcePath); err != nil {
		s.log.WithFunc().WithError(err).WithField("path", sourcePath).Error("Source path not accessible")
		return fmt.Errorf("source path not accessible: %w", err)
	}

	return filepath.Walk(sourcePath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			s.log.WithFunc().WithError(err).WithField("path", p).Error("Failed to access path")
			return err
		}
		if info.IsDir() || utils.IsTempFile(info.Name()) {
			return nil
		}
		rel, err := filepath.Rel(sourcePath, p)
		if err != nil {
			return err
		}
		return fn(rel, p, info)
	})
}

// Backup uploads the cache tree to the configured provider
func (s *BackupService) Backup(ctx context.Context) error {
	s.log.WithFunc().WithField("provider", s.provider).Debug("Starting backup process")

	var upload func(ctx context.Context, key string, file *os.File) error
	switch s.provider {
	case ProviderAWS:
		uploader := s3manager.NewUploader(s.awsSession)
		upload = func(ctx context.Context, key string, file *os.File) error {
			_, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
				Bucket: aws.String(s.config.Backup.AWS.Bucket),
				Key:    aws.String(key),
				Body:   file,
			})
			return err
		}
	case ProviderGCP:
		bucket := s.gcsClient.Bucket(s.config.Backup.GCP.Bucket)
		upload = func(ctx context.Context, key string, file *os.File) error {
			writer := bucket.Object(key).NewWriter(ctx)
			if _, err := io.Copy(writer, file); err != nil {
				writer.Close()
				return err
			}
			return writer.Close()
		}
	case ProviderAzure:
		upload = func(ctx context.Context, key string, file *os.File) error {
			blobURL := s.azureContainerURL.NewBlockBlobURL(key)
			_, err := azblob.UploadFileToBlockBlob(ctx, file, blobURL, azblob.UploadToBlockBlobOptions{
				BlockSize:   4 * 1024 * 1024,
				Parallelism: 16,
			})
			return err
		}
	default:
		return fmt.Errorf("no backup provider configured")
	}

	uploaded := 0
	err := s.walkCache(func(rel, fullPath string, info os.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		file, err := os.Open(fullPath)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", rel, err)
		}
		defer file.Close()

		key := s.objectKey(rel)
		if err := upload(ctx, key, file); err != nil {
			s.log.WithFunc().WithError(err).WithField("file", rel).Error("Failed to upload file")
			return fmt.Errorf("failed to upload %s: %w", rel, err)
		}
		uploaded++
		s.log.WithFunc().WithFields(logrus.Fields{
			"file": rel,
			"key":  key,
			"size": info.Size(),
		}).Debug("File uploaded")
		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithFunc().WithFields(logrus.Fields{
		"provider": s.provider,
		"files":    uploaded,
	}).Info("Backup completed")
	return nil
}

// Restore downloads every object under the prefix into the cache root.
// Files are written to a temp file then renamed, like cache writes.
func (s *BackupService) Restore(ctx context.Context) error {
	s.log.WithFunc().WithField("provider", s.provider).Debug("Starting restore process")

	root := s.cache.GetBasePath()
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("failed to create cache root: %w", err)
	}

	var (
		restored int
		err      error
	)
	switch s.provider {
	case ProviderAWS:
		restored, err = s.restoreFromAWS(ctx, root)
	case ProviderGCP:
		restored, err = s.restoreFromGCP(ctx, root)
	case ProviderAzure:
		restored, err = s.restoreFromAzure(ctx, root)
	default:
		return fmt.Errorf("no restore provider configured")
	}
	if err != nil {
		return err
	}

	s.log.WithFunc().WithFields(logrus.Fields{
		"provider": s.provider,
		"files":    restored,
	}).Info("Restore completed")
	return nil
}

// downloadTo creates a temp file next to target, lets fill write it, then renames
func downloadTo(target string, fill func(f *os.File) error) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, utils.TempPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *BackupService) restoreFromAWS(ctx context.Context, root string) (int, error) {
	bucket := s.config.Backup.AWS.Bucket
	downloader := s3manager.NewDownloader(s.awsSession)

	var keys []string
	err := s.s3Client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(s.config.Backup.Prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list S3 objects: %w", err)
	}

	restored := 0
	for _, key := range keys {
		target, ok := restoreTarget(root, s.config.Backup.Prefix, key)
		if !ok {
			continue
		}
		err := downloadTo(target, func(f *os.File) error {
			_, err := downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			})
			return err
		})
		if err != nil {
			return restored, fmt.Errorf("failed to restore %s: %w", key, err)
		}
		restored++
	}
	return restored, nil
}

func (s *BackupService) restoreFromGCP(ctx context.Context, root string) (int, error) {
	bucket := s.gcsClient.Bucket(s.config.Backup.GCP.Bucket)
	it := bucket.Objects(ctx, &gcs.Query{Prefix: s.config.Backup.Prefix})

	restored := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return restored, fmt.Errorf("failed to list GCS objects: %w", err)
		}
		target, ok := restoreTarget(root, s.config.Backup.Prefix, attrs.Name)
		if !ok {
			continue
		}
		err = downloadTo(target, func(f *os.File) error {
			reader, err := bucket.Object(attrs.Name).NewReader(ctx)
			if err != nil {
				return err
			}
			defer reader.Close()
			_, err = io.Copy(f, reader)
			return err
		})
		if err != nil {
			return restored, fmt.Errorf("failed to restore %s: %w", attrs.Name, err)
		}
		restored++
	}
	return restored, nil
}

func (s *BackupService) restoreFromAzure(ctx context.Context, root string) (int, error) {
	restored := 0
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := s.azureContainerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: s.config.Backup.Prefix,
		})
		if err != nil {
			return restored, fmt.Errorf("failed to list Azure blobs: %w", err)
		}
		marker = resp.NextMarker

		for _, item := range resp.Segment.BlobItems {
			target, ok := restoreTarget(root, s.config.Backup.Prefix, item.Name)
			if !ok {
				continue
			}
			blobURL := s.azureContainerURL.NewBlobURL(item.Name)
			err := downloadTo(target, func(f *os.File) error {
				return azblob.DownloadBlobToFile(ctx, blobURL, 0, azblob.CountToEnd, f, azblob.DownloadFromBlobOptions{})
			})
			if err != nil {
				return restored, fmt.Errorf("failed to restore %s: %w", item.Name, err)
			}
			restored++
		}
	}
	return restored, nil
}
