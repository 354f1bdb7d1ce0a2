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

const (
	NONE                       int16 = 0
	UNKNOWN_SERVER_ERROR       int16 = -1
	OFFSET_OUT_OF_RANGE        int16 = 1
	UNKNOWN_TOPIC_OR_PARTITION int16 = 3
	NOT_LEADER_OR_FOLLOWER     int16 = 6
	REQUEST_TIMED_OUT          int16 = 7
	INVALID_TOPIC_EXCEPTION    int16 = 17
	UNSUPPORTED_VERSION        int16 = 35
	TOPIC_ALREADY_EXISTS       int16 = 36
	THROTTLING_QUOTA_EXCEEDED  int16 = 89
)
