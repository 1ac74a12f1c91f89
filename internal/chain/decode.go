package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"stakewatch/internal/model"
)

// The sidecar emits blocks with extrinsics carrying method
// {pallet, method} and an args object in declaration order, events nested
// under their extrinsic plus the onInitialize/onFinalize hooks, and
// numbers as decimal or 0x-prefixed strings.

type sidecarMethod struct {
	Pallet string `json:"pallet"`
	Method string `json:"method"`
}

type sidecarEvent struct {
	Method sidecarMethod     `json:"method"`
	Data   []json.RawMessage `json:"data"`
}

type sidecarExtrinsic struct {
	Method sidecarMethod   `json:"method"`
	Args   json.RawMessage `json:"args"`
	Events []sidecarEvent  `json:"events"`
}

type sidecarHook struct {
	Events []sidecarEvent `json:"events"`
}

type sidecarBlock struct {
	Number       string             `json:"number"`
	Extrinsics   []sidecarExtrinsic `json:"extrinsics"`
	OnInitialize sidecarHook        `json:"onInitialize"`
	OnFinalize   sidecarHook        `json:"onFinalize"`
}

type sidecarHeader struct {
	Number string `json:"number"`
}

func decodeHeaderNumber(data []byte) (uint64, error) {
	var header sidecarHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return 0, err
	}
	return parseUintText(header.Number)
}

// DecodeBlock maps a sidecar block document onto the model. Individual
// extrinsics or events that fail to decode are degraded (bare call, no
// event) rather than failing the block.
func DecodeBlock(data []byte) (*model.Block, error) {
	var sb sidecarBlock
	if err := json.Unmarshal(data, &sb); err != nil {
		return nil, fmt.Errorf("parse block json: %w", err)
	}

	number, err := parseUintText(sb.Number)
	if err != nil {
		return nil, fmt.Errorf("parse block number %q: %w", sb.Number, err)
	}

	block := &model.Block{Number: number}
	appendEvents(block, sb.OnInitialize.Events, nil)
	for i, ext := range sb.Extrinsics {
		index := uint32(i)
		call, err := decodeCall(ext.Method, ext.Args)
		if err != nil {
			// Keep module/function so the correlation step can still
			// label the record; the args stay empty.
			call = model.Call{Module: canonicalModule(ext.Method.Pallet), Function: ext.Method.Method}
		}
		block.Extrinsics = append(block.Extrinsics, model.Extrinsic{Index: index, Call: call})
		appendEvents(block, ext.Events, &index)
	}
	appendEvents(block, sb.OnFinalize.Events, nil)
	return block, nil
}

func appendEvents(block *model.Block, events []sidecarEvent, extrinsicIndex *uint32) {
	for _, raw := range events {
		event, ok := decodeStakeEvent(raw, extrinsicIndex)
		if !ok {
			continue
		}
		block.Events = append(block.Events, event)
	}
}

// decodeStakeEvent extracts the fixed (hotkey, coldkey, amount) attribute
// tuple of staking-module events. Events of other modules, and staking
// events without that shape, are dropped here; the scanner does the final
// id filtering.
func decodeStakeEvent(raw sidecarEvent, extrinsicIndex *uint32) (model.Event, bool) {
	if !strings.EqualFold(raw.Method.Pallet, "SubtensorModule") {
		return model.Event{}, false
	}
	if len(raw.Data) < 3 {
		return model.Event{}, false
	}

	hotkey, ok := attrString(raw.Data[0])
	if !ok {
		return model.Event{}, false
	}
	coldkey, ok := attrString(raw.Data[1])
	if !ok {
		return model.Event{}, false
	}
	amount, ok := attrUint(raw.Data[2])
	if !ok {
		return model.Event{}, false
	}

	event := model.Event{
		ID:             model.EventID(raw.Method.Method),
		Hotkey:         hotkey,
		Coldkey:        coldkey,
		AmountRao:      amount,
		ExtrinsicIndex: extrinsicIndex,
	}

	// Extended attribute layout of EVM-originated events carries the
	// subnet at position 4. Values past the plausible subnet range are
	// ignored rather than trusted.
	if len(raw.Data) >= 5 {
		if netuid, ok := attrUint(raw.Data[4]); ok && netuid < 256 {
			event.Netuid = &netuid
		}
	}
	return event, true
}

// decodeCall maps one call document onto the model, preserving argument
// order by walking the args object token by token.
func decodeCall(method sidecarMethod, args json.RawMessage) (model.Call, error) {
	call := model.Call{
		Module:   canonicalModule(method.Pallet),
		Function: method.Method,
	}
	if len(args) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		return call, nil
	}

	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return call, fmt.Errorf("read args: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return call, fmt.Errorf("args is not an object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return call, fmt.Errorf("read arg name: %w", err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return call, fmt.Errorf("arg name is not a string")
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return call, fmt.Errorf("read arg %s: %w", name, err)
		}
		value, err := decodeValue(raw)
		if err != nil {
			return call, fmt.Errorf("decode arg %s: %w", name, err)
		}
		call.Args = append(call.Args, model.CallArg{Name: name, Value: value})
	}
	return call, nil
}

// nestedCall is the shape a call takes when embedded as an argument value
// of a wrapper call.
type nestedCall struct {
	Method *sidecarMethod  `json:"method"`
	Args   json.RawMessage `json:"args"`
}

func decodeValue(raw json.RawMessage) (model.CallValue, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return model.StringValue(""), nil
	}

	switch trimmed[0] {
	case '{':
		var nested nestedCall
		if err := json.Unmarshal(trimmed, &nested); err == nil && isCallMethod(nested.Method) {
			inner, err := decodeCall(*nested.Method, nested.Args)
			if err != nil {
				return model.CallValue{}, err
			}
			return model.InnerCallValue(inner), nil
		}
		// Opaque struct argument (multi-address, price limit tuple, ...);
		// kept verbatim for display and reproducibility.
		return model.StringValue(string(trimmed)), nil

	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return model.CallValue{}, err
		}
		calls, ok, err := decodeCallList(elems)
		if err != nil {
			return model.CallValue{}, err
		}
		if ok {
			return model.InnerCallsValue(calls), nil
		}
		return model.StringValue(string(trimmed)), nil

	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return model.CallValue{}, err
		}
		return model.StringValue(s), nil

	default:
		text := string(trimmed)
		if n, err := strconv.ParseUint(text, 10, 64); err == nil {
			return model.UintValue(n), nil
		}
		// Negative numbers, floats, booleans, null.
		return model.StringValue(text), nil
	}
}

// decodeCallList decodes a JSON array as a call sequence. The second
// return is false when any element is not a call, in which case the array
// is some other list-typed argument.
func decodeCallList(elems []json.RawMessage) ([]model.Call, bool, error) {
	if len(elems) == 0 {
		return nil, false, nil
	}
	calls := make([]model.Call, 0, len(elems))
	for _, elem := range elems {
		var nested nestedCall
		if err := json.Unmarshal(elem, &nested); err != nil || !isCallMethod(nested.Method) {
			return nil, false, nil
		}
		call, err := decodeCall(*nested.Method, nested.Args)
		if err != nil {
			return nil, false, err
		}
		calls = append(calls, call)
	}
	return calls, true, nil
}

func isCallMethod(m *sidecarMethod) bool {
	return m != nil && m.Pallet != "" && m.Method != ""
}

func attrString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	// Some runtimes wrap account ids as {"id": "..."} variants.
	var wrapped struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.ID != "" {
		return wrapped.ID, true
	}
	return "", false
}

func attrUint(raw json.RawMessage) (uint64, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, err := parseUintText(s)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		n, err := strconv.ParseUint(num.String(), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// parseUintText accepts decimal and 0x-prefixed hex number encodings.
func parseUintText(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return hexutil.DecodeUint64("0x" + s[2:])
	}
	return strconv.ParseUint(s, 10, 64)
}

// canonicalModule restores the runtime pallet casing from the sidecar's
// camelCased form ("subtensorModule" -> "SubtensorModule").
func canonicalModule(pallet string) string {
	if pallet == "" {
		return pallet
	}
	runes := []rune(pallet)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
