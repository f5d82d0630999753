package drived

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"

	"tapevault/internal/tape/drive"
)

// Client talks to a Server over its control socket, presenting the same
// operations as drive.Drive (minus WriteBlock/ReadBlock, which are the
// pool writer's concern and run in-process against the drive directly,
// never across the control socket).
type Client struct {
	conn net.Conn
	r    *bufio.Reader
	enc  *json.Encoder
}

// Dial connects to the Unix domain socket at path and authenticates with
// token.
func Dial(path, token string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("drived: dial %s: %w", path, err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", token); err != nil {
		conn.Close()
		return nil, fmt.Errorf("drived: send token: %w", err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn), enc: json.NewEncoder(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(req Request) (Response, error) {
	if err := c.enc.Encode(req); err != nil {
		return Response{}, fmt.Errorf("drived: send request: %w", err)
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return Response{}, fmt.Errorf("drived: read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return Response{}, fmt.Errorf("drived: decode response: %w", err)
	}
	if resp.Err != "" {
		return Response{}, fmt.Errorf("%s", resp.Err)
	}
	return resp, nil
}

func (c *Client) Rewind() error { _, err := c.call(Request{Op: OpRewind}); return err }
func (c *Client) Eject() error  { _, err := c.call(Request{Op: OpEject}); return err }

func (c *Client) Load(labelText string) error {
	_, err := c.call(Request{Op: OpLoad, LabelText: labelText})
	return err
}

func (c *Client) EraseMedia(fast bool) error {
	_, err := c.call(Request{Op: OpEraseMedia, Fast: fast})
	return err
}

func (c *Client) FormatMedia(fast bool) error {
	_, err := c.call(Request{Op: OpFormatMedia, Fast: fast})
	return err
}

func (c *Client) WriteFilemarks(n int, immediate bool) error {
	_, err := c.call(Request{Op: OpWriteFilemarks, N: n, Immediate: immediate})
	return err
}

func (c *Client) SpaceFilemarks(n int) error {
	_, err := c.call(Request{Op: OpSpaceFilemarks, N: n})
	return err
}

func (c *Client) SpaceBlocks(n int) error {
	_, err := c.call(Request{Op: OpSpaceBlocks, N: n})
	return err
}

func (c *Client) MoveToEOM(writeMissingEOF bool) error {
	_, err := c.call(Request{Op: OpMoveToEOM, WriteEOF: writeMissingEOF})
	return err
}

func (c *Client) Position() (drive.Position, error) {
	resp, err := c.call(Request{Op: OpPosition})
	if err != nil || resp.Position == nil {
		return drive.Position{}, err
	}
	return *resp.Position, nil
}

func (c *Client) CurrentFileNumber() (uint64, error) {
	resp, err := c.call(Request{Op: OpCurrentFileNum})
	return resp.FileNumber, err
}

func (c *Client) SetDriveOptions(opts drive.Options) error {
	_, err := c.call(Request{Op: OpSetDriveOptions, Options: &opts})
	return err
}

func (c *Client) SetEncryption(key []byte) error {
	_, err := c.call(Request{Op: OpSetEncryption, Key: key})
	return err
}

func (c *Client) TapeAlertFlags() (drive.TapeAlertFlag, error) {
	resp, err := c.call(Request{Op: OpTapeAlertFlags})
	return resp.AlertFlags, err
}

func (c *Client) CartridgeMemory() (drive.CartridgeMemory, error) {
	resp, err := c.call(Request{Op: OpCartridgeMemory})
	if err != nil || resp.Memory == nil {
		return drive.CartridgeMemory{}, err
	}
	return *resp.Memory, nil
}

func (c *Client) VolumeStatistics() (drive.VolumeStatistics, error) {
	resp, err := c.call(Request{Op: OpVolumeStatistics})
	if err != nil || resp.Stats == nil {
		return drive.VolumeStatistics{}, err
	}
	return *resp.Stats, nil
}

func (c *Client) ReadDriveStatus() (drive.DriveStatus, error) {
	resp, err := c.call(Request{Op: OpReadDriveStatus})
	if err != nil || resp.Status == nil {
		return drive.DriveStatus{}, err
	}
	return *resp.Status, nil
}
