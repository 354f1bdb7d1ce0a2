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

package protocol

// API keys served by the broker front end.
const (
	APIKeyProduce      int16 = 0
	APIKeyFetch        int16 = 1
	APIKeyListOffsets  int16 = 2
	APIKeyMetadata     int16 = 3
	APIKeyApiVersion   int16 = 18
	APIKeyCreateTopics int16 = 19
)

// ApiVersion describes the supported version range for an API.
type ApiVersion struct {
	APIKey     int16
	MinVersion int16
	MaxVersion int16
}

// SupportedVersions enumerates the version ranges this broker answers.
// Maximums stay below each API's flexible-version cutover; clients that
// probe with a newer ApiVersions request fall back after the v0 reply.
func SupportedVersions() []ApiVersion {
	return []ApiVersion{
		{APIKey: APIKeyProduce, MinVersion: 3, MaxVersion: 8},
		{APIKey: APIKeyFetch, MinVersion: 4, MaxVersion: 11},
		{APIKey: APIKeyListOffsets, MinVersion: 0, MaxVersion: 1},
		{APIKey: APIKeyMetadata, MinVersion: 0, MaxVersion: 8},
		{APIKey: APIKeyApiVersion, MinVersion: 0, MaxVersion: 0},
		{APIKey: APIKeyCreateTopics, MinVersion: 0, MaxVersion: 0},
	}
}
