package mtp

import (
	"bytes"
	"io"
)

// GetDeviceInfo fetches the device's capability descriptor and
// recomputes the Session's optional-cluster feature flags from its
// OperationsSupported list. Callers must call this at least once after
// OpenSession before relying on EditObjectSupported or the 64-bit
// GetPartialObject dispatch.
func (s *Session) GetDeviceInfo(info *DeviceInfo) error {
	req := Container{Code: OC_GetDeviceInfo}
	if err := s.decodeInto(&req, info); err != nil {
		return err
	}
	s.mu.Lock()
	s.info = *info
	s.mu.Unlock()
	s.updateFeatureFlags()
	return nil
}

func (s *Session) GetStorageIDs(ids *Uint32Array) error {
	req := Container{Code: OC_GetStorageIDs}
	return s.decodeInto(&req, ids)
}

func (s *Session) GetStorageInfo(storageID uint32, info *StorageInfo) error {
	req := Container{Code: OC_GetStorageInfo, Param: []uint32{storageID}}
	return s.decodeInto(&req, info)
}

// GetObjectHandles lists every object under parent on storageID, scoped
// to objectFormat if nonzero. storageID 0xFFFFFFFF and parent
// 0xFFFFFFFF mean "every storage" and "the storage root", per the data
// model's reserved values.
func (s *Session) GetObjectHandles(storageID, objectFormat, parent uint32, handles *Uint32Array) error {
	req := Container{Code: OC_GetObjectHandles, Param: []uint32{storageID, objectFormat, parent}}
	return s.decodeInto(&req, handles)
}

func (s *Session) GetObjectInfo(handle uint32, info *ObjectInfo) error {
	req := Container{Code: OC_GetObjectInfo, Param: []uint32{handle}}
	return s.decodeInto(&req, info)
}

// GetObject streams handle's full content into w without ever holding
// it in memory at once; see Packetizer.Read.
func (s *Session) GetObject(handle uint32, w io.Writer) error {
	req := Container{Code: OC_GetObject, Param: []uint32{handle}}
	var rep Container
	return s.RunTransaction(&req, &rep, w, nil, 0)
}

// GetPartialObject streams size bytes of handle starting at offset into
// w. It uses the 64-bit extension when the device advertised it, so
// offsets beyond 4GiB work transparently; otherwise it falls back to the
// 32-bit form and the caller is responsible for keeping offset+size
// within range.
func (s *Session) GetPartialObject(handle uint32, w io.Writer, offset uint64, size uint32) error {
	var req Container
	if s.getPartialObject64Supported {
		req = Container{
			Code:  OC_GetPartialObject64,
			Param: []uint32{handle, uint32(offset), uint32(offset >> 32), size},
		}
	} else {
		req = Container{
			Code:  OC_GetPartialObject,
			Param: []uint32{handle, uint32(offset), size},
		}
	}
	var rep Container
	return s.RunTransaction(&req, &rep, w, nil, 0)
}

// SendObjectInfo announces a new object's metadata ahead of SendObject,
// returning the storage, parent and handle the device actually assigned
// (which may differ from what was requested, e.g. when storageID or
// parentObject is left as the Device/Root sentinel).
func (s *Session) SendObjectInfo(wantStorageID, wantParent uint32, info *ObjectInfo) (storageID, parent, handle uint32, err error) {
	req := Container{Code: OC_SendObjectInfo, Param: []uint32{wantStorageID, wantParent}}
	buf := &bytes.Buffer{}
	if err = Encode(buf, info); err != nil {
		return
	}
	var rep Container
	if err = s.RunTransaction(&req, &rep, nil, buf, int64(buf.Len())); err != nil {
		return
	}
	if len(rep.Param) < 3 {
		err = InvalidResponseError("SendObjectInfo: short response")
		return
	}
	return rep.Param[0], rep.Param[1], rep.Param[2], nil
}

// SendObject streams size bytes read from r as the Data-out phase of the
// SendObjectInfo/SendObject pair.
func (s *Session) SendObject(r io.Reader, size int64) error {
	req := Container{Code: OC_SendObject}
	var rep Container
	return s.RunTransaction(&req, &rep, nil, r, size)
}

// CreateDirectory is a convenience wrapping SendObjectInfo for the
// common case of creating an empty association (folder) object —
// supplementing the base operation set the way the reference client's
// Session exposes it directly rather than making every caller build an
// ObjectInfo by hand.
func (s *Session) CreateDirectory(name string, parentID, storageID uint32, associationType uint16) (storageOut, parentOut, handle uint32, err error) {
	info := ObjectInfo{
		ObjectFormat:    OFC_Association,
		AssociationType: associationType,
		Filename:        name,
		StorageID:       storageID,
		ParentObject:    parentID,
	}
	return s.SendObjectInfo(storageID, parentID, &info)
}

func (s *Session) DeleteObject(handle uint32) error {
	req := Container{Code: OC_DeleteObject, Param: []uint32{handle, 0}}
	var rep Container
	return s.RunTransaction(&req, &rep, nil, nil, 0)
}

func (s *Session) GetObjectPropsSupported(objectFormat uint16, props *Uint16Array) error {
	req := Container{Code: OC_GetObjectPropsSupported, Param: []uint32{uint32(objectFormat)}}
	return s.decodeInto(&req, props)
}

func (s *Session) GetObjectPropDesc(objectPropCode, objectFormatCode uint16, desc *ObjectPropDesc) error {
	req := Container{Code: OC_MTP_GetObjectPropDesc, Param: []uint32{uint32(objectPropCode), uint32(objectFormatCode)}}
	return s.decodeInto(&req, desc)
}

func (s *Session) GetObjectPropValue(handle uint32, propCode uint16, value interface{}) error {
	req := Container{Code: OC_MTP_GetObjectPropValue, Param: []uint32{handle, uint32(propCode)}}
	return s.decodeInto(&req, value)
}

func (s *Session) SetObjectPropValue(handle uint32, propCode uint16, value interface{}) error {
	req := Container{Code: OC_MTP_SetObjectPropValue, Param: []uint32{handle, uint32(propCode)}}
	buf := &bytes.Buffer{}
	if err := Encode(buf, value); err != nil {
		return err
	}
	var rep Container
	return s.RunTransaction(&req, &rep, nil, buf, int64(buf.Len()))
}

// GetObjectProperty returns propCode's raw encoded value for handle,
// for callers that want the bytes rather than a decoded Go value.
func (s *Session) GetObjectProperty(handle uint32, propCode uint16) ([]byte, error) {
	req := Container{Code: OC_MTP_GetObjectPropValue, Param: []uint32{handle, uint32(propCode)}}
	var rep Container
	var buf bytes.Buffer
	if err := s.RunTransaction(&req, &rep, &buf, nil, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Session) GetObjectIntegerProperty(handle uint32, propCode uint16) (uint64, error) {
	var v Uint64Value
	if err := s.GetObjectPropValue(handle, propCode, &v); err != nil {
		return 0, err
	}
	return v.Value, nil
}

func (s *Session) GetObjectStringProperty(handle uint32, propCode uint16) (string, error) {
	var v StringValue
	if err := s.GetObjectPropValue(handle, propCode, &v); err != nil {
		return "", err
	}
	return v.Value, nil
}

// SetObjectProperty is the string-valued overload of SetObjectPropValue,
// matching the reference client's two SetObjectProperty forms — callers
// that already have a string don't need to know about StringValue.
func (s *Session) SetObjectProperty(handle uint32, propCode uint16, value string) error {
	return s.SetObjectPropValue(handle, propCode, &StringValue{Value: value})
}

func (s *Session) GetDevicePropDesc(propCode uint16, desc *DevicePropDesc) error {
	req := Container{Code: OC_GetDevicePropDesc, Param: []uint32{uint32(propCode)}}
	var rep Container
	var buf bytes.Buffer
	if err := s.RunTransaction(&req, &rep, &buf, nil, 0); err != nil {
		return err
	}
	return desc.Decode(&buf)
}

func (s *Session) GetDevicePropValue(propCode uint32, dest interface{}) error {
	req := Container{Code: OC_GetDevicePropValue, Param: []uint32{propCode}}
	return s.decodeInto(&req, dest)
}

func (s *Session) SetDevicePropValue(propCode uint32, src interface{}) error {
	req := Container{Code: OC_SetDevicePropValue, Param: []uint32{propCode}}
	buf := &bytes.Buffer{}
	if err := Encode(buf, src); err != nil {
		return err
	}
	var rep Container
	return s.RunTransaction(&req, &rep, nil, buf, int64(buf.Len()))
}

func (s *Session) ResetDevicePropValue(propCode uint32) error {
	req := Container{Code: OC_ResetDevicePropValue, Param: []uint32{propCode}}
	var rep Container
	return s.RunTransaction(&req, &rep, nil, nil, 0)
}

// beginEditObject, sendPartialObject, truncateObject and endEditObject
// are unexported: they are only safe to call through an EditObjectSession,
// which enforces the begin/end bracketing (editsession.go).

func (s *Session) beginEditObject(handle uint32) error {
	req := Container{Code: OC_BeginEditObject, Param: []uint32{handle}}
	var rep Container
	return s.RunTransaction(&req, &rep, nil, nil, 0)
}

func (s *Session) sendPartialObject(handle uint32, offset uint64, r io.Reader, size int64) error {
	req := Container{
		Code:  OC_SendPartialObject,
		Param: []uint32{handle, uint32(offset), uint32(offset >> 32), uint32(size)},
	}
	var rep Container
	return s.RunTransaction(&req, &rep, nil, r, size)
}

func (s *Session) truncateObject(handle uint32, size uint64) error {
	req := Container{
		Code:  OC_TruncateObject,
		Param: []uint32{handle, uint32(size), uint32(size >> 32)},
	}
	var rep Container
	return s.RunTransaction(&req, &rep, nil, nil, 0)
}

func (s *Session) endEditObject(handle uint32) error {
	req := Container{Code: OC_EndEditObject, Param: []uint32{handle}}
	var rep Container
	return s.RunTransaction(&req, &rep, nil, nil, 0)
}
