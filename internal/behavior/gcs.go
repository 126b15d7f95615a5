package behavior

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// ObjectLogSource reads activity log objects from a GCS bucket. Log
// shippers write gzipped JSON batches under date prefixes
// (YYYY/MM/DD/...), one {"Records": [...]} document per object.
type ObjectLogSource struct {
	client *storage.Client
	bucket string
	now    func() time.Time
}

// NewObjectLogSource opens a GCS client for the given bucket. When
// credentialsFile is empty, ambient credentials are used.
func NewObjectLogSource(ctx context.Context, bucket, credentialsFile string) (*ObjectLogSource, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &ObjectLogSource{
		client: client,
		bucket: bucket,
		now:    time.Now,
	}, nil
}

func (s *ObjectLogSource) Name() string { return "gcs" }

// Close releases the underlying GCS client.
func (s *ObjectLogSource) Close() error {
	return s.client.Close()
}

// Fetch lists today's log objects and parses every record in them.
// Unreadable or malformed objects are skipped; an error is returned
// only when the listing itself fails.
func (s *ObjectLogSource) Fetch(ctx context.Context) ([]Event, error) {
	prefix := s.now().UTC().Format("2006/01/02") + "/"
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var events []Event
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list log objects under %s: %w", prefix, err)
		}
		objEvents, err := s.readObject(ctx, attrs.Name)
		if err != nil {
			continue
		}
		events = append(events, objEvents...)
	}
	return events, nil
}

func (s *ObjectLogSource) readObject(ctx context.Context, name string) ([]Event, error) {
	reader, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	var body io.Reader = reader
	if strings.HasSuffix(name, ".gz") {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gz.Close() }()
		body = gz
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return ParseRecords(data)
}

type logRecord struct {
	UserIdentity struct {
		Type     string `json:"type"`
		UserName string `json:"userName"`
		ARN      string `json:"arn"`
	} `json:"userIdentity"`
	SourceIPAddress string `json:"sourceIPAddress"`
	EventTime       string `json:"eventTime"`
	EventSource     string `json:"eventSource"`
	EventName       string `json:"eventName"`
}

// ParseRecords decodes a {"Records": [...]} log batch. Records with no
// resolvable user or an unparseable timestamp are dropped.
func ParseRecords(data []byte) ([]Event, error) {
	var doc struct {
		Records []logRecord `json:"Records"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode log batch: %w", err)
	}

	events := make([]Event, 0, len(doc.Records))
	for _, rec := range doc.Records {
		user := rec.UserIdentity.UserName
		if user == "" {
			user = rec.UserIdentity.ARN
		}
		if user == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, rec.EventTime)
		if err != nil {
			continue
		}
		events = append(events, Event{
			UserType:    rec.UserIdentity.Type,
			User:        user,
			SourceIP:    rec.SourceIPAddress,
			EventTime:   ts,
			EventSource: rec.EventSource,
			EventName:   rec.EventName,
		})
	}
	return events, nil
}
