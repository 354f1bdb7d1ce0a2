// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"encoding/binary"
	"fmt"
)

// The broker treats record batch contents as opaque; only the frame length,
// base offset, and record count fields of the v2 batch header are touched.
const (
	recordBatchHeaderMinSize = 61
	batchFrameHeaderLen      = 12
	recordCountOffset        = 57
)

// batchFrame is one record batch inside a produced record set.
type batchFrame struct {
	start   int
	length  int
	records int32
}

// scanRecordSet splits a record set into its batch frames, validating that
// every frame is complete. Clients concatenate v2 batches back to back.
func scanRecordSet(recordSet []byte) ([]batchFrame, error) {
	var frames []batchFrame
	offset := 0
	for offset < len(recordSet) {
		if offset+batchFrameHeaderLen > len(recordSet) {
			return nil, fmt.Errorf("record set truncated at %d", offset)
		}
		batchLen := int(binary.BigEndian.Uint32(recordSet[offset+8 : offset+12]))
		if batchLen <= 0 {
			return nil, fmt.Errorf("invalid batch length %d at %d", batchLen, offset)
		}
		frameLen := batchFrameHeaderLen + batchLen
		if offset+frameLen > len(recordSet) || frameLen < recordBatchHeaderMinSize {
			return nil, fmt.Errorf("record batch truncated at %d", offset)
		}
		records := int32(binary.BigEndian.Uint32(recordSet[offset+recordCountOffset : offset+recordCountOffset+4]))
		if records <= 0 {
			return nil, fmt.Errorf("invalid record count %d at %d", records, offset)
		}
		frames = append(frames, batchFrame{start: offset, length: frameLen, records: records})
		offset += frameLen
	}
	return frames, nil
}

// patchBaseOffset overwrites the base offset field of the batch at the start
// of b.
func patchBaseOffset(b []byte, baseOffset int64) {
	binary.BigEndian.PutUint64(b[0:8], uint64(baseOffset))
}
