// SPDX-License-Identifier: GPL-3.0-or-later

package schedule

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/rbmk-project/ranisim/rani"
)

// object is a decoded mapping whose keys we consume while parsing, such
// that the keys left over at the end are the unknown ones.
type object map[string]any

// take removes and returns the value of a required key.
func (o object) take(key string) (any, error) {
	value, found := o[key]
	if !found {
		return nil, fmt.Errorf("missing %q", key)
	}
	delete(o, key)
	return value, nil
}

// takeUint removes a required key whose value must be an integer
// between zero and limit, inclusive.
func (o object) takeUint(key string, limit uint64) (uint64, error) {
	value, err := o.take(key)
	if err != nil {
		return 0, err
	}
	return toUint(key, value, limit)
}

// takeString removes a required string key.
func (o object) takeString(key string) (string, error) {
	value, err := o.take(key)
	if err != nil {
		return "", err
	}
	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%q must be a string", key)
	}
	return str, nil
}

// takeList removes a required list key.
func (o object) takeList(key string) ([]any, error) {
	value, err := o.take(key)
	if err != nil {
		return nil, err
	}
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%q must be an array", key)
	}
	return list, nil
}

// takeObject removes a required object key.
func (o object) takeObject(key string) (object, error) {
	value, err := o.take(key)
	if err != nil {
		return nil, err
	}
	return toObject(key, value)
}

// ensureEmpty fails if there are keys we did not consume.
func (o object) ensureEmpty() error {
	if len(o) <= 0 {
		return nil
	}
	keys := slices.Sorted(maps.Keys(o))
	return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
}

// toObject converts a decoded value to an [object] copy.
func toObject(key string, value any) (object, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%q must be an object", key)
	}
	return object(maps.Clone(m)), nil
}

// toUint converts a decoded number to uint64 checking it does not exceed limit.
func toUint(key string, value any, limit uint64) (uint64, error) {
	var out uint64
	switch v := value.(type) {
	case int:
		if v < 0 {
			return 0, fmt.Errorf("%q must not be negative", key)
		}
		out = uint64(v)
	case uint64:
		out = v
	case float64:
		if v < 0 || v != math.Trunc(v) || v > math.MaxUint64 {
			return 0, fmt.Errorf("%q must be a non-negative integer", key)
		}
		out = uint64(v)
	default:
		return 0, fmt.Errorf("%q must be a non-negative integer", key)
	}
	if out > limit {
		return 0, fmt.Errorf("%q: %d too big (maximum is %d)", key, out, limit)
	}
	return out, nil
}

// allLinks is the recv_link value meaning every link.
const allLinks = "all"

// parseTestCase parses a single test case object.
func parseTestCase(raw map[string]any) (*TestCase, error) {
	obj := object(maps.Clone(raw))

	label, err := obj.takeString("msg")
	if err != nil {
		return nil, err
	}
	sendLink, err := obj.takeUint("send_link", rani.LinkCount-1)
	if err != nil {
		return nil, err
	}
	sendObject, err := obj.takeObject("send_packet")
	if err != nil {
		return nil, err
	}
	sendPacket, err := parsePacket(maps.Clone(sendObject))
	if err != nil {
		return nil, fmt.Errorf("send_packet: %w", err)
	}

	tc := &TestCase{
		Label:      label,
		SendLink:   int(sendLink),
		SendPacket: sendPacket,
	}

	if value, found := obj["checksum"]; found {
		delete(obj, "checksum")
		checksum, err := toUint("checksum", value, math.MaxUint8)
		if err != nil {
			return nil, err
		}
		tc.Checksum = new(uint8)
		*tc.Checksum = uint8(checksum)
	}

	value, found := obj["recv_link"]
	if !found {
		if _, found := obj["recv_packet"]; found {
			return nil, errors.New("recv_packet requires recv_link")
		}
		return tc, obj.ensureEmpty()
	}
	delete(obj, "recv_link")

	if tc.RecvLinks, err = parseRecvLinks(value); err != nil {
		return nil, err
	}

	recvObjects, err := parseRecvObjects(obj)
	if err != nil {
		return nil, err
	}
	if len(recvObjects) != len(tc.RecvLinks) {
		return nil, fmt.Errorf("recv_link has %d links but recv_packet has %d packets",
			len(tc.RecvLinks), len(recvObjects))
	}
	for idx, recvObject := range recvObjects {
		for key, value := range sendObject {
			if _, found := recvObject[key]; !found {
				recvObject[key] = value
			}
		}
		pkt, err := parsePacket(recvObject)
		if err != nil {
			return nil, fmt.Errorf("recv_packet %d: %w", idx, err)
		}
		tc.RecvPackets = append(tc.RecvPackets, pkt)
	}

	return tc, obj.ensureEmpty()
}

// parseRecvLinks parses the recv_link value.
func parseRecvLinks(value any) ([]int, error) {
	if str, ok := value.(string); ok {
		if str != allLinks {
			return nil, fmt.Errorf("recv_link: expected %q, got %q", allLinks, str)
		}
		links := make([]int, 0, rani.LinkCount)
		for idx := range rani.LinkCount {
			links = append(links, idx)
		}
		return links, nil
	}

	list, ok := value.([]any)
	if !ok {
		list = []any{value}
	}
	if len(list) <= 0 {
		return nil, errors.New("recv_link must not be empty")
	}
	links := make([]int, 0, len(list))
	for _, entry := range list {
		link, err := toUint("recv_link", entry, rani.LinkCount-1)
		if err != nil {
			return nil, err
		}
		if slices.Contains(links, int(link)) {
			return nil, fmt.Errorf("recv_link: duplicate link %d", link)
		}
		links = append(links, int(link))
	}
	return links, nil
}

// parseRecvObjects removes and returns the recv_packet objects.
func parseRecvObjects(obj object) ([]object, error) {
	value, err := obj.take("recv_packet")
	if err != nil {
		return nil, err
	}
	list, ok := value.([]any)
	if !ok {
		list = []any{value}
	}
	var objects []object
	for _, entry := range list {
		recvObject, err := toObject("recv_packet", entry)
		if err != nil {
			return nil, err
		}
		objects = append(objects, recvObject)
	}
	return objects, nil
}

// flagNames maps the flag names to their values.
var flagNames = map[string]rani.Flags{
	"ERR": rani.FlagERR,
	"END": rani.FlagEND,
	"ACK": rani.FlagACK,
}

// parsePacket parses and consumes a packet object.
func parsePacket(obj object) (*rani.Packet, error) {
	var fields rani.Fields

	src, err := obj.takeUint("src", math.MaxUint8)
	if err != nil {
		return nil, err
	}
	fields.Src = uint8(src)

	dest, err := obj.takeUint("dest", math.MaxUint8)
	if err != nil {
		return nil, err
	}
	fields.Dest = uint8(dest)

	ttl, err := obj.takeUint("ttl", rani.MaxTTL)
	if err != nil {
		return nil, err
	}
	fields.TTL = uint8(ttl)

	seqNo, err := obj.takeUint("seq_no", rani.MaxSeqNo)
	if err != nil {
		return nil, err
	}
	fields.SeqNo = uint16(seqNo)

	flags, err := obj.takeList("flags")
	if err != nil {
		return nil, err
	}
	for _, entry := range flags {
		name, ok := entry.(string)
		if !ok {
			return nil, errors.New("flags can only be strings")
		}
		flag, found := flagNames[name]
		if !found {
			return nil, fmt.Errorf("invalid flag: %q", name)
		}
		fields.Flags |= flag
	}

	typ, err := obj.takeString("type")
	if err != nil {
		return nil, err
	}
	value, err := obj.take("payload")
	if err != nil {
		return nil, err
	}
	var payload rani.Payload
	switch typ {
	case rani.TypeCommand.String():
		payload, err = parseCommandPayload(value)
	case rani.TypeData.String():
		payload, err = parseDataPayload(value)
	default:
		err = fmt.Errorf("invalid packet type: %q", typ)
	}
	if err != nil {
		return nil, err
	}

	if err := obj.ensureEmpty(); err != nil {
		return nil, err
	}
	return rani.NewPacket(fields, payload)
}

// parseCommandPayload parses the payload of a "cmd" packet.
func parseCommandPayload(value any) (*rani.CommandPayload, error) {
	obj, err := toObject("payload", value)
	if err != nil {
		return nil, errors.New("cmd packets only allow object payloads")
	}
	count, err := obj.takeUint("entry_count", math.MaxUint8)
	if err != nil {
		return nil, err
	}
	timestamp, err := obj.takeUint("timestamp", rani.MaxTimestamp)
	if err != nil {
		return nil, err
	}
	list, err := obj.takeList("entries")
	if err != nil {
		return nil, err
	}
	entries := make([]rani.CommandEntry, 0, len(list))
	for _, entry := range list {
		pair, ok := entry.([]any)
		if !ok || len(pair) != 2 {
			return nil, errors.New("cmd table entries must be [dest, cost] pairs")
		}
		dest, err := toUint("dest", pair[0], math.MaxUint8)
		if err != nil {
			return nil, err
		}
		cost, err := toUint("cost", pair[1], math.MaxUint8)
		if err != nil {
			return nil, err
		}
		entries = append(entries, rani.CommandEntry{Dest: uint8(dest), Cost: uint8(cost)})
	}
	if err := obj.ensureEmpty(); err != nil {
		return nil, err
	}
	return rani.NewCommandPayload(uint8(count), uint32(timestamp), entries)
}

// parseDataPayload parses the payload of a "data" packet.
func parseDataPayload(value any) (*rani.DataPayload, error) {
	switch v := value.(type) {
	case string:
		return rani.NewDataPayload([]byte(v)), nil
	case []any:
		data := make([]byte, 0, len(v))
		for _, entry := range v {
			octet, err := toUint("payload", entry, math.MaxUint8)
			if err != nil {
				return nil, err
			}
			data = append(data, uint8(octet))
		}
		return rani.NewDataPayload(data), nil
	default:
		return nil, errors.New("data packets only allow string or byte array payloads")
	}
}
