package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestFileStore_PutGetList(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "backups"))

	if err := s.Put(ctx, "accounts/alice/1.json", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "full/1.json", []byte(`{}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, err := s.Get(ctx, "accounts/alice/1.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("data = %s", data)
	}

	keys, err := s.List(ctx, "accounts/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 || keys[0] != "accounts/alice/1.json" {
		t.Errorf("keys = %v", keys)
	}
}

func TestFileStore_GetMissing(t *testing.T) {
	s := NewFileStore(t.TempDir())
	if _, err := s.Get(context.Background(), "nope.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// ディレクトリの外を指すキーは拒否する
func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	s := NewFileStore(t.TempDir())
	for _, key := range []string{"../x.json", "/etc/passwd", "."} {
		if err := s.Put(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("Put(%q) should fail", key)
		}
	}
}

func TestFileStore_ListMissingDir(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "missing"))
	keys, err := s.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("keys = %v, want empty", keys)
	}
}

func TestFileStore_OverwriteLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewFileStore(dir)

	s.Put(ctx, "a.json", []byte("1"))
	s.Put(ctx, "a.json", []byte("2"))

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
	data, _ := s.Get(ctx, "a.json")
	if string(data) != "2" {
		t.Errorf("data = %s, want 2", data)
	}
}

// --- S3 ---

type fakeS3 struct {
	objects  map[string][]byte
	pageSize int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), pageSize: 2}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

// ListObjectsV2 はキーを辞書順に並べ、pageSize件ずつ返す。
func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var all []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			all = append(all, k)
		}
	}
	sort.Strings(all)

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range all {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	end := start + f.pageSize
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if end < len(all) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(all[end])
	} else {
		end = len(all)
	}
	for _, k := range all[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3Store_PutGetListPaged(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := &S3Store{client: fake, bucket: "backups"}

	for _, k := range []string{"full/3.json", "full/1.json", "full/2.json", "accounts/a/1.json", "full/4.json"} {
		if err := s.Put(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}

	keys, err := s.List(ctx, "full/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"full/1.json", "full/2.json", "full/3.json", "full/4.json"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}

	data, err := s.Get(ctx, "full/2.json")
	if err != nil || string(data) != "full/2.json" {
		t.Errorf("Get = %q, %v", data, err)
	}
}

func TestS3Store_GetMissing(t *testing.T) {
	s := &S3Store{client: newFakeS3(), bucket: "backups"}
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	if _, err := NewS3Store(context.Background(), S3Config{Region: "us-east-1"}); err == nil {
		t.Error("expected error without bucket")
	}
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*S3Store)(nil)
	_ s3API = (*s3.Client)(nil)
)
