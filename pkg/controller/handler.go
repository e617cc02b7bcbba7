package controller

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/downfa11-org/readindex/pkg/container"
	"github.com/downfa11-org/readindex/pkg/types"
	"github.com/downfa11-org/readindex/util"
)

const helpText = `Available commands:
CREATE segment=<scope/stream/N> - create segment
LIST - list all segments
APPEND segment=<name> message=<text> - append text to segment
FLUSH segment=<name> - write unflushed data to storage
SEAL segment=<name> - stop appends to segment
MERGE target=<name> source=<name> - append sealed source to target
TRUNCATE segment=<name> offset=<N> - drop data below offset
READ segment=<name> offset=<N> [length=<N>] - read bytes (default length=rest of segment)
ENTRIES segment=<name> - show read index entries
INFO segment=<name> - show segment metadata
DELETE segment=<name> - delete segment
SCALE segment=<name> successors=<name,name,...> [token=<text>] - seal segment and create its successors
SUCCESSORS segment=<name> - show the successors recorded by SCALE
HELP - show this help
EXIT - exit`

// CommandHandler executes text commands against a container.
type CommandHandler struct {
	Container *container.Container
}

func NewCommandHandler(c *container.Container) *CommandHandler {
	return &CommandHandler{Container: c}
}

// HandleCommand runs one command line and returns the response to print.
func (ch *CommandHandler) HandleCommand(ctx context.Context, rawCmd string) string {
	cmd := strings.TrimSpace(rawCmd)
	if cmd == "" {
		return "ERROR: empty command"
	}

	name, rest, _ := strings.Cut(cmd, " ")
	args := parseKeyValueArgs(rest)

	var resp string
	switch strings.ToUpper(name) {
	case "HELP":
		resp = helpText
	case "CREATE":
		resp = ch.handleCreate(args)
	case "LIST":
		resp = ch.handleList()
	case "APPEND":
		resp = ch.handleAppend(ctx, args)
	case "FLUSH":
		resp = ch.withSegment(args, "segment", func(info types.SegmentInfo) string {
			if err := ch.Container.Flush(ctx, info.ID); err != nil {
				return fmt.Sprintf("ERROR: %v", err)
			}
			return fmt.Sprintf("✅ Segment '%s' flushed", info.Name)
		})
	case "SEAL":
		resp = ch.withSegment(args, "segment", func(info types.SegmentInfo) string {
			sealed, err := ch.Container.Seal(info.ID)
			if err != nil {
				return fmt.Sprintf("ERROR: %v", err)
			}
			return fmt.Sprintf("🔒 Segment '%s' sealed at length %d", sealed.Name, sealed.Length)
		})
	case "MERGE":
		resp = ch.handleMerge(ctx, args)
	case "TRUNCATE":
		resp = ch.handleTruncate(args)
	case "READ":
		resp = ch.handleRead(ctx, args)
	case "ENTRIES":
		resp = ch.withSegment(args, "segment", func(info types.SegmentInfo) string {
			entries, err := ch.Container.Entries(info.ID)
			if err != nil {
				return fmt.Sprintf("ERROR: %v", err)
			}
			if len(entries) == 0 {
				return "(no entries)"
			}
			lines := make([]string, len(entries))
			for i, e := range entries {
				lines[i] = e.String()
			}
			return strings.Join(lines, "\n")
		})
	case "INFO":
		resp = ch.withSegment(args, "segment", formatInfo)
	case "DELETE":
		resp = ch.withSegment(args, "segment", func(info types.SegmentInfo) string {
			if err := ch.Container.Delete(ctx, info.ID); err != nil {
				return fmt.Sprintf("ERROR: %v", err)
			}
			return fmt.Sprintf("🗑️ Segment '%s' deleted", info.Name)
		})
	case "SCALE":
		resp = ch.handleScale(args)
	case "SUCCESSORS":
		resp = ch.withSegment(args, "segment", func(info types.SegmentInfo) string {
			successors, ok := ch.Container.Successors(info.ID)
			if !ok {
				return fmt.Sprintf("ERROR: segment '%s' has not been scaled", info.Name)
			}
			return formatSuccessors(successors)
		})
	default:
		resp = "ERROR: unknown command: " + name
	}

	ch.logCommandResult(cmd, resp)
	return resp
}

func (ch *CommandHandler) logCommandResult(cmd, resp string) {
	if strings.HasPrefix(resp, "ERROR:") {
		util.Warn("command %q failed: %s", cmd, resp)
		return
	}
	util.Debug("command %q ok", cmd)
}

// withSegment resolves the segment named by args[key] and passes it to fn.
func (ch *CommandHandler) withSegment(args map[string]string, key string, fn func(types.SegmentInfo) string) string {
	name := args[key]
	if name == "" {
		return fmt.Sprintf("ERROR: missing %s parameter", key)
	}
	info, err := ch.Container.Lookup(name)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	return fn(info)
}

func (ch *CommandHandler) handleCreate(args map[string]string) string {
	name := args["segment"]
	if name == "" {
		return "ERROR: missing segment parameter. Expected: CREATE segment=<scope/stream/N>"
	}
	segment, err := types.ParseSegment(name)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	info, err := ch.Container.Create(segment)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	return fmt.Sprintf("✅ Segment '%s' created with id %s", info.Name, info.ID)
}

func (ch *CommandHandler) handleList() string {
	segments := ch.Container.Segments()
	if len(segments) == 0 {
		return "(no segments)"
	}
	names := make([]string, len(segments))
	for i, s := range segments {
		names[i] = s.Name
	}
	return strings.Join(names, ", ")
}

func (ch *CommandHandler) handleAppend(ctx context.Context, args map[string]string) string {
	message, ok := args["message"]
	if !ok || message == "" {
		return "ERROR: missing message parameter. Expected: APPEND segment=<name> message=<text>"
	}
	return ch.withSegment(args, "segment", func(info types.SegmentInfo) string {
		offset, err := ch.Container.Append(ctx, info.ID, []byte(message))
		if err != nil {
			return fmt.Sprintf("ERROR: %v", err)
		}
		return fmt.Sprintf("📤 Appended %d bytes to '%s' at offset %d", len(message), info.Name, offset)
	})
}

func (ch *CommandHandler) handleMerge(ctx context.Context, args map[string]string) string {
	return ch.withSegment(args, "target", func(target types.SegmentInfo) string {
		return ch.withSegment(args, "source", func(source types.SegmentInfo) string {
			if err := ch.Container.Merge(ctx, target.ID, source.ID); err != nil {
				return fmt.Sprintf("ERROR: %v", err)
			}
			return fmt.Sprintf("🔀 Segment '%s' merged into '%s' at offset %d", source.Name, target.Name, target.Length)
		})
	})
}

func (ch *CommandHandler) handleTruncate(args map[string]string) string {
	offset, err := parseOffset(args, "offset")
	if err != nil {
		return "ERROR: " + err.Error()
	}
	return ch.withSegment(args, "segment", func(info types.SegmentInfo) string {
		if err := ch.Container.Truncate(info.ID, offset); err != nil {
			return fmt.Sprintf("ERROR: %v", err)
		}
		return fmt.Sprintf("✂️ Segment '%s' truncated at %d", info.Name, offset)
	})
}

func (ch *CommandHandler) handleRead(ctx context.Context, args map[string]string) string {
	offset, err := parseOffset(args, "offset")
	if err != nil {
		return "ERROR: " + err.Error()
	}
	return ch.withSegment(args, "segment", func(info types.SegmentInfo) string {
		length := info.Length - offset
		if _, ok := args["length"]; ok {
			if length, err = parseOffset(args, "length"); err != nil {
				return "ERROR: " + err.Error()
			}
		}
		data, err := ch.Container.Read(ctx, info.ID, offset, length)
		if err != nil {
			return fmt.Sprintf("ERROR: %v", err)
		}
		return string(data)
	})
}

func (ch *CommandHandler) handleScale(args map[string]string) string {
	list := args["successors"]
	if list == "" {
		return "ERROR: missing successors parameter. Expected: SCALE segment=<name> successors=<name,name,...> [token=<text>]"
	}
	var successors []types.Segment
	for _, name := range strings.Split(list, ",") {
		s, err := types.ParseSegment(strings.TrimSpace(name))
		if err != nil {
			return fmt.Sprintf("ERROR: %v", err)
		}
		successors = append(successors, s)
	}
	return ch.withSegment(args, "segment", func(info types.SegmentInfo) string {
		result, err := ch.Container.Scale(info.ID, successors, args["token"])
		if err != nil {
			return fmt.Sprintf("ERROR: %v", err)
		}
		return fmt.Sprintf("📈 Segment '%s' sealed, successors: %s", info.Name, formatSuccessors(result))
	})
}

func formatSuccessors(s types.StreamSegmentSuccessors) string {
	names := make([]string, 0, s.Len())
	for _, seg := range s.SortedSegments() {
		names = append(names, seg.ScopedName())
	}
	out := strings.Join(names, ", ")
	if token := s.DelegationToken(); token != "" {
		out += " token=" + token
	}
	return out
}

func formatInfo(info types.SegmentInfo) string {
	return fmt.Sprintf("id=%s name=%s length=%d storageLength=%d startOffset=%d sealed=%t",
		info.ID, info.Name, info.Length, info.StorageLength, info.StartOffset, info.Sealed)
}

func parseOffset(args map[string]string, key string) (int64, error) {
	s, ok := args[key]
	if !ok || s == "" {
		return 0, fmt.Errorf("missing %s parameter", key)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

// parseKeyValueArgs splits "k1=v1 k2=v2" pairs. Everything after message= is taken verbatim.
func parseKeyValueArgs(argsStr string) map[string]string {
	result := make(map[string]string)

	if idx := strings.Index(argsStr, "message="); idx != -1 {
		result["message"] = strings.TrimSpace(argsStr[idx+len("message="):])
		argsStr = argsStr[:idx]
	}
	for _, part := range strings.Fields(argsStr) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			result[kv[0]] = kv[1]
		}
	}
	return result
}
