package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 'I', 'H', 'D', 'R'}

type fakeProcessor struct {
	fn func([]byte) ([]byte, error)
}

func (p *fakeProcessor) Execute(data []byte) ([]byte, error) { return p.fn(data) }
func (p *fakeProcessor) Len() int                            { return 1 }

func newTestIngestor(t *testing.T, slots int, processor ImageProcessor, options IngestOptions) (*UploadIngestor, *GroupStore) {
	t.Helper()
	store := newTestStore(t, newTestLayout(t, slots), NewMemoryCache())
	return NewUploadIngestor(store, processor, options), store
}

func TestIngest_RoundTrip(t *testing.T) {
	ingestor, store := newTestIngestor(t, 6, nil, IngestOptions{})
	ctx := context.Background()

	files := []UploadFile{
		{Name: "c.PNG", Data: []byte("c")},
		{Name: "a.jpg", Data: []byte("a")},
		{Name: "b.jpeg", Data: []byte("bb")},
	}
	result, err := ingestor.Ingest(ctx, "wind", files)
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	expected := []string{"001.jpg", "002.jpeg", "003.png"}
	if result.SavedCount != 3 || !reflect.DeepEqual(result.SavedFilenames, expected) {
		t.Fatalf("unexpected result %+v", result)
	}

	records, err := store.ListSlots(ctx, "wind")
	if err != nil {
		t.Fatalf("ListSlots error: %v", err)
	}
	if len(records) != 6 {
		t.Fatalf("expected 6 records, got %d", len(records))
	}
	for i, r := range records {
		if i < 3 {
			if r.Placeholder || r.Filename != expected[i] {
				t.Errorf("slot %d: expected %s, got %+v", i+1, expected[i], r)
			}
		} else if !r.Placeholder {
			t.Errorf("slot %d: expected placeholder, got %+v", i+1, r)
		}
	}
	if records[1].Size != 2 {
		t.Errorf("expected size 2 for b.jpeg, got %d", records[1].Size)
	}
}

func TestIngest_ReplacesPreviousContent(t *testing.T) {
	ingestor, store := newTestIngestor(t, 4, nil, IngestOptions{})
	ctx := context.Background()

	first := []UploadFile{{Name: "1.jpg"}, {Name: "2.jpg"}, {Name: "3.png"}, {Name: "4.gif"}}
	if _, err := ingestor.Ingest(ctx, "wind", first); err != nil {
		t.Fatalf("first Ingest error: %v", err)
	}
	if _, err := ingestor.Ingest(ctx, "wind", []UploadFile{{Name: "only.bmp", Data: []byte("x")}}); err != nil {
		t.Fatalf("second Ingest error: %v", err)
	}

	names := dirNames(t, store.layout.GroupDir("wind"))
	if !reflect.DeepEqual(names, []string{"001.bmp"}) {
		t.Fatalf("expected only 001.bmp after replace, got %v", names)
	}
	if staging := dirNames(t, store.layout.StagingDir()); len(staging) != 0 {
		t.Errorf("expected empty staging directory, got %v", staging)
	}

	records, err := store.ListSlots(ctx, "wind")
	if err != nil {
		t.Fatalf("ListSlots error: %v", err)
	}
	if records[0].Filename != "001.bmp" || !records[1].Placeholder {
		t.Errorf("cached listing was not refreshed: %+v", records[:2])
	}
}

func TestIngest_RejectsWholeBatchOnBadExtension(t *testing.T) {
	ingestor, store := newTestIngestor(t, 4, nil, IngestOptions{})
	ctx := context.Background()

	if _, err := ingestor.Ingest(ctx, "wind", []UploadFile{{Name: "keep.png", Data: []byte("k")}}); err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	before := dirNames(t, store.layout.GroupDir("wind"))

	_, err := ingestor.Ingest(ctx, "wind", []UploadFile{{Name: "a.txt"}, {Name: "b.jpg"}})
	if !errors.Is(err, ErrUnsupportedExtension) {
		t.Fatalf("expected ErrUnsupportedExtension, got %v", err)
	}
	if after := dirNames(t, store.layout.GroupDir("wind")); !reflect.DeepEqual(before, after) {
		t.Errorf("directory changed after rejected batch: %v -> %v", before, after)
	}
}

func TestIngest_Validation(t *testing.T) {
	tooMany := make([]UploadFile, 5)
	for i := range tooMany {
		tooMany[i] = UploadFile{Name: fmt.Sprintf("%d.jpg", i)}
	}

	tests := []struct {
		name     string
		group    string
		files    []UploadFile
		options  IngestOptions
		expected error
	}{
		{"unknown group", "nope", []UploadFile{{Name: "a.jpg"}}, IngestOptions{}, ErrInvalidGroup},
		{"empty batch", "wind", nil, IngestOptions{}, ErrEmptyBatch},
		{"too many files", "wind", tooMany, IngestOptions{}, ErrTooManyFiles},
		{"empty filename", "wind", []UploadFile{{Name: " "}}, IngestOptions{}, ErrEmptyFilename},
		{"no extension", "wind", []UploadFile{{Name: "README"}}, IngestOptions{}, ErrUnsupportedExtension},
		{"partial batch when full required", "wind", []UploadFile{{Name: "a.jpg"}}, IngestOptions{RequireFullBatch: true}, ErrIncompleteBatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ingestor, _ := newTestIngestor(t, 4, nil, tt.options)
			_, err := ingestor.Ingest(context.Background(), tt.group, tt.files)
			if !errors.Is(err, tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, err)
			}
			if !IsInvalidInput(err) {
				t.Errorf("expected %v to be classified as invalid input", err)
			}
		})
	}
}

func TestIngest_Idempotent(t *testing.T) {
	ingestor, store := newTestIngestor(t, 5, nil, IngestOptions{Concurrency: 3})
	ctx := context.Background()
	batch := []UploadFile{{Name: "b.jpg", Data: []byte("b")}, {Name: "a.png", Data: []byte("aa")}}

	if _, err := ingestor.Ingest(ctx, "台海温度", batch); err != nil {
		t.Fatalf("first Ingest error: %v", err)
	}
	first, err := store.ListSlots(ctx, "台海温度")
	if err != nil {
		t.Fatalf("ListSlots error: %v", err)
	}
	if _, err := ingestor.Ingest(ctx, "台海温度", batch); err != nil {
		t.Fatalf("second Ingest error: %v", err)
	}
	second, err := store.ListSlots(ctx, "台海温度")
	if err != nil {
		t.Fatalf("ListSlots error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("listings differ:\n%+v\n%+v", first, second)
	}
}

func TestIngest_ProcessorOutputDecidesExtension(t *testing.T) {
	processor := &fakeProcessor{fn: func(data []byte) ([]byte, error) {
		if string(data) == "broken" {
			return nil, errors.New("decode failed")
		}
		return pngSignature, nil
	}}
	ingestor, store := newTestIngestor(t, 4, processor, IngestOptions{Concurrency: 2})

	result, err := ingestor.Ingest(context.Background(), "wind", []UploadFile{
		{Name: "a.jpg", Data: []byte("fine")},
		{Name: "b.JPG", Data: []byte("broken")},
	})
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if !reflect.DeepEqual(result.SavedFilenames, []string{"001.png", "002.jpg"}) {
		t.Fatalf("unexpected filenames %v", result.SavedFilenames)
	}
	if result.Reencoded != 1 {
		t.Errorf("expected 1 reencoded file, got %d", result.Reencoded)
	}

	rc, _, err := store.Open("wind", "002.jpg")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer rc.Close()
	buf := make([]byte, 16)
	n, _ := rc.Read(buf)
	if string(buf[:n]) != "broken" {
		t.Errorf("expected original bytes for failed processing, got %q", buf[:n])
	}
}

func TestIngest_ConcurrentIngestsLeaveOneCompleteBatch(t *testing.T) {
	ingestor, store := newTestIngestor(t, 3, nil, IngestOptions{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := []UploadFile{
				{Name: "a.jpg", Data: []byte(fmt.Sprint(i))},
				{Name: "b.jpg", Data: []byte(fmt.Sprint(i))},
			}
			if _, err := ingestor.Ingest(ctx, "wind", batch); err != nil {
				t.Errorf("Ingest error: %v", err)
			}
		}()
	}
	wg.Wait()

	names := dirNames(t, store.layout.GroupDir("wind"))
	if !reflect.DeepEqual(names, []string{"001.jpg", "002.jpg"}) {
		t.Errorf("expected exactly one complete batch, got %v", names)
	}
}

func TestPutSlot_ReplacesOtherExtension(t *testing.T) {
	ingestor, store := newTestIngestor(t, 4, nil, IngestOptions{})
	ctx := context.Background()
	dir := store.layout.GroupDir("wind")
	writeTestFile(t, dir, "002.png", []byte("old"))

	record, err := ingestor.PutSlot(ctx, "wind", 2, UploadFile{Name: "new.JPG", Data: []byte("new")})
	if err != nil {
		t.Fatalf("PutSlot error: %v", err)
	}
	if record.Filename != "002.jpg" || record.Path() != "wind/002.jpg" {
		t.Errorf("unexpected record %+v", record)
	}
	if names := dirNames(t, dir); !reflect.DeepEqual(names, []string{"002.jpg"}) {
		t.Errorf("expected only 002.jpg, got %v", names)
	}
}

func TestPutSlot_Validation(t *testing.T) {
	ingestor, _ := newTestIngestor(t, 4, nil, IngestOptions{})
	ctx := context.Background()

	if _, err := ingestor.PutSlot(ctx, "wind", 0, UploadFile{Name: "a.jpg"}); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("expected ErrInvalidIndex for 0, got %v", err)
	}
	if _, err := ingestor.PutSlot(ctx, "wind", 5, UploadFile{Name: "a.jpg"}); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("expected ErrInvalidIndex for 5, got %v", err)
	}
	if _, err := ingestor.PutSlot(ctx, "nope", 1, UploadFile{Name: "a.jpg"}); !errors.Is(err, ErrInvalidGroup) {
		t.Errorf("expected ErrInvalidGroup, got %v", err)
	}
	if _, err := ingestor.PutSlot(ctx, "wind", 1, UploadFile{Name: "a.exe"}); !errors.Is(err, ErrUnsupportedExtension) {
		t.Errorf("expected ErrUnsupportedExtension, got %v", err)
	}
}
