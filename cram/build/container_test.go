package build

import (
	"testing"

	"github.com/exascience/elprep-cram/cram/structure"
)

func makeRecords(n int) []*structure.CompressionRecord {
	records := make([]*structure.CompressionRecord, n)
	for i := range records {
		records[i] = &structure.CompressionRecord{Index: int32(i + 1)}
	}
	return records
}

// Scenario 2 at the slice level: RecordsPerSlice = 3, 7 records -> slices of size 3, 3, 1.
func TestBuildContainerSlicesBySize(t *testing.T) {
	factory := NewContainerFactory(3)
	container := factory.BuildContainer(makeRecords(7), []byte("refbases"))

	if len(container.Slices) != 3 {
		t.Fatalf("got %d slices, want 3", len(container.Slices))
	}
	wantSizes := []int{3, 3, 1}
	for i, slice := range container.Slices {
		if len(slice.Records) != wantSizes[i] {
			t.Errorf("slice %d has %d records, want %d", i, len(slice.Records), wantSizes[i])
		}
	}
}

// P6: every sealed slice's ref_md5 equals MD5 of the batch reference bases.
func TestBuildContainerStampsMD5(t *testing.T) {
	bases := []byte("ACGTACGTACGT")
	factory := NewContainerFactory(2)
	container := factory.BuildContainer(makeRecords(4), bases)

	var want structure.Slice
	want.SetRefMD5(bases)

	for _, slice := range container.Slices {
		if slice.RefMD5 != want.RefMD5 {
			t.Errorf("slice RefMD5 = %x, want %x", slice.RefMD5, want.RefMD5)
		}
	}
}

func TestBuildContainerEmptyRecords(t *testing.T) {
	factory := NewContainerFactory(10)
	container := factory.BuildContainer(nil, nil)
	if len(container.Slices) != 0 {
		t.Errorf("got %d slices for an empty batch, want 0", len(container.Slices))
	}
}
