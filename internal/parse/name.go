package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	spaceRe = regexp.MustCompile(`\s+`)
	// "3F-12", "3f 12": explicit floor, then the room sequence.
	explicitFloorRe = regexp.MustCompile(`(?i)(\d+)\s*F\s*-?\s*(\d+)\s*$`)
	// "204", "G12", "1105": the trailing number carries the floor in front of
	// its last two digits. A leading G means ground floor.
	numberRe = regexp.MustCompile(`(?i)(G)?(\d+)\s*$`)
)

// RoomLabel holds the structured data parsed from a room label such as "A-204".
type RoomLabel struct {
	Block  string
	Floor  int
	Number string
}

// ParseRoomLabel extracts block, floor and room number from a raw label.
// The block is whatever precedes the number, with separators removed.
func ParseRoomLabel(raw string) (RoomLabel, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "#", " ")
	s = strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
	if s == "" {
		return RoomLabel{}, fmt.Errorf("empty room label")
	}

	if loc := explicitFloorRe.FindStringSubmatchIndex(s); loc != nil {
		floor, err := strconv.Atoi(s[loc[2]:loc[3]])
		if err == nil {
			seq := s[loc[4]:loc[5]]
			return RoomLabel{
				Block:  block(s[:loc[0]]),
				Floor:  floor,
				Number: fmt.Sprintf("%d%s", floor, pad(seq)),
			}, nil
		}
	}

	loc := numberRe.FindStringSubmatchIndex(s)
	if loc == nil {
		return RoomLabel{}, fmt.Errorf("unable to parse room number from label: %q", raw)
	}
	digits := s[loc[4]:loc[5]]
	label := RoomLabel{Block: block(s[:loc[0]])}

	if loc[2] >= 0 {
		label.Floor = 0
		label.Number = "G" + digits
		return label, nil
	}

	label.Number = digits
	if len(digits) > 2 {
		floor, err := strconv.Atoi(digits[:len(digits)-2])
		if err != nil {
			return RoomLabel{}, fmt.Errorf("unable to parse floor from label %q: %w", raw, err)
		}
		label.Floor = floor
	}
	return label, nil
}

func block(prefix string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(prefix), "-_/ "))
}

func pad(seq string) string {
	if len(seq) == 1 {
		return "0" + seq
	}
	return seq
}
