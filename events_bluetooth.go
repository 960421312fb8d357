package xpush

import "encoding/json"

// BluetoothPeer holds the attributes shared by bluetooth connection and
// file transfer events. A numeric port on the wire reads as its decimal text.
type BluetoothPeer struct {
	Address Attr[string]
	Port    Attr[string]
	Extra   Extras
}

// Peer returns a BluetoothPeer with both attributes set.
func Peer(address, port string) BluetoothPeer {
	return BluetoothPeer{Address: Some(address), Port: Some(port)}
}

func (p BluetoothPeer) Attrs() map[string]any {
	m := make(map[string]any, 2+len(p.Extra))
	p.Address.put(m, "address")
	p.Port.put(m, "port")
	return p.Extra.mergeInto(m)
}

func decodeBluetoothPeer(fields map[string]json.RawMessage) (BluetoothPeer, error) {
	extra, err := decodeExtras(fields, "address", "port")
	if err != nil {
		return BluetoothPeer{}, err
	}
	return BluetoothPeer{
		Address: decodeText(fields, "address"),
		Port:    decodeText(fields, "port"),
		Extra:   extra,
	}, nil
}

// BluetoothDeviceConnectedEvent is raised when a device connects.
type BluetoothDeviceConnectedEvent struct{ BluetoothPeer }

// BluetoothDeviceDisconnectedEvent is raised when a device disconnects.
type BluetoothDeviceDisconnectedEvent struct{ BluetoothPeer }

// BluetoothConnectionRejectedEvent is raised when a connection attempt is rejected.
type BluetoothConnectionRejectedEvent struct{ BluetoothPeer }

// BluetoothFilePutRequestEvent is raised when a peer asks to upload a file.
type BluetoothFilePutRequestEvent struct{ BluetoothPeer }

// BluetoothFileGetRequestEvent is raised when a peer asks to download a file.
type BluetoothFileGetRequestEvent struct{ BluetoothPeer }

// BluetoothFileReceivedEvent is raised once a transfer completes and the file
// is stored at Path.
type BluetoothFileReceivedEvent struct {
	Path  Attr[string]
	Extra Extras
}

func (BluetoothDeviceConnectedEvent) EventType() string    { return "BluetoothDeviceConnectedEvent" }
func (BluetoothDeviceDisconnectedEvent) EventType() string { return "BluetoothDeviceDisconnectedEvent" }
func (BluetoothConnectionRejectedEvent) EventType() string { return "BluetoothConnectionRejectedEvent" }
func (BluetoothFilePutRequestEvent) EventType() string     { return "BluetoothFilePutRequestEvent" }
func (BluetoothFileGetRequestEvent) EventType() string     { return "BluetoothFileGetRequestEvent" }
func (BluetoothFileReceivedEvent) EventType() string       { return "BluetoothFileReceivedEvent" }

func (e BluetoothFileReceivedEvent) Attrs() map[string]any {
	m := make(map[string]any, 1+len(e.Extra))
	e.Path.put(m, "path")
	return e.Extra.mergeInto(m)
}

func peerKind(wrap func(BluetoothPeer) EventData) EventFactory {
	return func(fields map[string]json.RawMessage) (EventData, error) {
		p, err := decodeBluetoothPeer(fields)
		if err != nil {
			return nil, err
		}
		return wrap(p), nil
	}
}

func init() {
	mustRegisterEventKind("BluetoothDeviceConnectedEvent", peerKind(func(p BluetoothPeer) EventData {
		return BluetoothDeviceConnectedEvent{p}
	}))
	mustRegisterEventKind("BluetoothDeviceDisconnectedEvent", peerKind(func(p BluetoothPeer) EventData {
		return BluetoothDeviceDisconnectedEvent{p}
	}))
	mustRegisterEventKind("BluetoothConnectionRejectedEvent", peerKind(func(p BluetoothPeer) EventData {
		return BluetoothConnectionRejectedEvent{p}
	}))
	mustRegisterEventKind("BluetoothFilePutRequestEvent", peerKind(func(p BluetoothPeer) EventData {
		return BluetoothFilePutRequestEvent{p}
	}))
	mustRegisterEventKind("BluetoothFileGetRequestEvent", peerKind(func(p BluetoothPeer) EventData {
		return BluetoothFileGetRequestEvent{p}
	}))
	mustRegisterEventKind("BluetoothFileReceivedEvent", func(fields map[string]json.RawMessage) (EventData, error) {
		extra, err := decodeExtras(fields, "path")
		if err != nil {
			return nil, err
		}
		return BluetoothFileReceivedEvent{Path: decodeText(fields, "path"), Extra: extra}, nil
	})
}
