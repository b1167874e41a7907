package events

import (
	"encoding/json"
	"fmt"
	"time"
)

const localDateTimeLayout = "2006-01-02T15:04:05"

// Location 타임존 정보가 없는 날짜를 해석할 기준 위치
var Location = time.Local

// LocalDateTime 타임존 없는 ISO-8601 날짜/시간 (예: 2025-01-10T15:00:00)
//
// 읽을 때는 RFC3339 형식과 초가 생략된 형식(2025-01-10T15:00)도 허용한다.
type LocalDateTime struct {
	time.Time
}

// NewLocalDateTime time.Time 래핑
func NewLocalDateTime(t time.Time) LocalDateTime {
	return LocalDateTime{Time: t}
}

// MarshalJSON yyyy-MM-dd'T'HH:mm:ss 형식으로 직렬화
func (t LocalDateTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.In(Location).Format(localDateTimeLayout))
}

// UnmarshalJSON 지원 형식 중 하나로 역직렬화
func (t *LocalDateTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("local date time must be a string: %w", err)
	}

	parsed, err := ParseLocalDateTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ParseLocalDateTime 문자열을 시간으로 변환
func ParseLocalDateTime(s string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return parsed, nil
	}
	for _, layout := range []string{localDateTimeLayout, "2006-01-02T15:04"} {
		if parsed, err := time.ParseInLocation(layout, s, Location); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid local date time: %q", s)
}
