package mtp

// Operation codes for the 64-bit partial-object and edit-object
// extension cluster. These originated as an Android-specific MTP
// extension but are treated here as an ordinary optional cluster: a
// device advertises support for them the same way as any other
// operation, via DeviceInfo.OperationsSupported, and Session recomputes
// its support flags each time GetDeviceInfo fetches a DeviceInfo.
const OC_GetPartialObject64 = 0x95C1
const OC_SendPartialObject = 0x95C2
const OC_TruncateObject = 0x95C3
const OC_BeginEditObject = 0x95C4
const OC_EndEditObject = 0x95C5

const OC_GetObjectPropsSupported = OC_MTP_GetObjectPropsSupported

func init() {
	OC_names[OC_GetPartialObject64] = "GetPartialObject64"
	OC_names[OC_SendPartialObject] = "SendPartialObject"
	OC_names[OC_TruncateObject] = "TruncateObject"
	OC_names[OC_BeginEditObject] = "BeginEditObject"
	OC_names[OC_EndEditObject] = "EndEditObject"
}
