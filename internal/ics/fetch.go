package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appLog "icalbot/internal/log"
)

const (
	defaultTimeout = 15 * time.Second
	maxFeedBytes   = 16 << 20
	userAgent      = "icalbot/1.0"
)

// Sentinel errors, one per loader. Every error returned by a Loader wraps
// exactly one of them.
var (
	ErrLocalFeed  = errors.New("local feed read failed")
	ErrRemoteFeed = errors.New("remote feed fetch failed")
	ErrS3Feed     = errors.New("s3 feed fetch failed")

	// ErrFeedTooLarge is wrapped with the source sentinel when a body
	// exceeds the loader's size limit.
	ErrFeedTooLarge = errors.New("feed exceeds size limit")
)

// StatusError reports a non-success HTTP status from the feed server.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return "HTTP error: " + e.Status
}

// Is makes errors.Is(err, ErrRemoteFeed) hold for status failures.
func (e *StatusError) Is(target error) bool {
	return target == ErrRemoteFeed
}

// S3Options configures access to s3://bucket/key feed locations.
// Empty credentials mean anonymous access.
type S3Options struct {
	Region          string `yaml:"region" toml:"region"`
	Endpoint        string `yaml:"endpoint" toml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style" toml:"use_path_style"`
}

// ObjectGetter is the subset of the S3 client the loader needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Loader fetches raw feed bytes. It never caches: every call goes to the
// source.
type Loader struct {
	client   *http.Client
	maxBytes int64

	s3Opts   S3Options
	s3Once   sync.Once
	s3Client ObjectGetter
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *Loader) { l.client = c }
}

// WithMaxBytes overrides the feed body size limit (16 MiB).
func WithMaxBytes(n int64) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// WithS3 sets the options used to build the S3 client on first use.
func WithS3(opts S3Options) LoaderOption {
	return func(l *Loader) { l.s3Opts = opts }
}

// WithObjectGetter injects a ready S3 client.
func WithObjectGetter(g ObjectGetter) LoaderOption {
	return func(l *Loader) { l.s3Client = g }
}

// NewLoader creates a Loader whose HTTP requests time out after timeout
// (15s when zero).
func NewLoader(timeout time.Duration, opts ...LoaderOption) *Loader {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	l := &Loader{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxFeedBytes,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Fetch routes location to the matching loader:
//
//	http://, https://  remote
//	webcal://          remote, over https
//	s3://bucket/key    S3 object
//	file://, anything else  local path
func (l *Loader) Fetch(ctx context.Context, location string) ([]byte, error) {
	lower := strings.ToLower(location)
	switch {
	case strings.HasPrefix(lower, "webcal://"):
		return l.FetchRemote(ctx, "https://"+location[len("webcal://"):])
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return l.FetchRemote(ctx, location)
	case strings.HasPrefix(lower, "s3://"):
		return l.FetchS3(ctx, location)
	case strings.HasPrefix(lower, "file://"):
		return l.FetchLocal(location[len("file://"):])
	default:
		return l.FetchLocal(location)
	}
}

// FetchLocal reads a feed from disk.
func (l *Loader) FetchLocal(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLocalFeed, err)
	}
	return data, nil
}

// FetchRemote downloads a feed over HTTP(S). Any non-2xx status is a
// *StatusError.
func (l *Loader) FetchRemote(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteFeed, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	appLog.Debug("ics fetch start", "url", RedactURL(url))

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteFeed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := l.readCapped(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrRemoteFeed, err)
	}

	appLog.Debug("ics fetch success", "url", RedactURL(url), "status", resp.StatusCode, "bytes", len(body))
	return body, nil
}

// FetchS3 downloads s3://bucket/key.
func (l *Loader) FetchS3(ctx context.Context, location string) ([]byte, error) {
	bucket, key, err := splitS3Location(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrS3Feed, err)
	}

	out, err := l.objectGetter().GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrS3Feed, err)
	}
	defer out.Body.Close()

	body, err := l.readCapped(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read object: %w", ErrS3Feed, err)
	}
	return body, nil
}

// readCapped reads r fully, failing instead of truncating when it holds
// more than maxBytes.
func (l *Loader) readCapped(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > l.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrFeedTooLarge, l.maxBytes)
	}
	return body, nil
}

func (l *Loader) objectGetter() ObjectGetter {
	l.s3Once.Do(func() {
		if l.s3Client != nil {
			return
		}
		region := l.s3Opts.Region
		if region == "" {
			region = "us-east-1"
		}
		var creds aws.CredentialsProvider = aws.AnonymousCredentials{}
		if l.s3Opts.AccessKeyID != "" {
			creds = credentials.NewStaticCredentialsProvider(l.s3Opts.AccessKeyID, l.s3Opts.SecretAccessKey, "")
		}
		o := s3.Options{
			Region:       region,
			Credentials:  creds,
			UsePathStyle: l.s3Opts.UsePathStyle,
			HTTPClient:   l.client,
		}
		if l.s3Opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(l.s3Opts.Endpoint)
		}
		l.s3Client = s3.New(o)
	})
	return l.s3Client
}

func splitS3Location(location string) (bucket, key string, err error) {
	rest := location[len("s3://"):]
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 location %q (want s3://bucket/key)", location)
	}
	return bucket, key, nil
}

// RedactURL hides sensitive parts of a feed URL for logging purposes:
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
//
// Plain filesystem paths are returned unchanged.
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	scheme, rest, ok := strings.Cut(u, "://")
	if !ok || scheme == "file" {
		return u
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host + redactedSuffix
}
