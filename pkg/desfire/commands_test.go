package desfire

import (
	"bytes"
	"testing"
)

func plainContext(t *testing.T, tr Transport) *DesfireContext {
	t.Helper()
	ctx, err := NewContext(tr, 0, KeyAES, make([]byte, 16), CommandSetNative)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	return ctx
}

func TestGetAIDListReblocksInto3ByteAIDs(t *testing.T) {
	tr := &queueTransport{rawResponses: [][]byte{{0x00, 0x01, 0x00, 0x00, 0x02, 0x00, 0x00}}}
	ctx := plainContext(t, tr)

	aids, err := ctx.GetAIDList()
	if err != nil {
		t.Fatalf("GetAIDList: %v", err)
	}
	want := []uint32{0x000001, 0x000002}
	if len(aids) != len(want) || aids[0] != want[0] || aids[1] != want[1] {
		t.Fatalf("aids = %v, want %v", aids, want)
	}
}

func TestGetAIDListRejectsTrailingPartialAID(t *testing.T) {
	tr := &queueTransport{rawResponses: [][]byte{{0x00, 0x01, 0x00, 0x00, 0x02}}}
	ctx := plainContext(t, tr)
	if _, err := ctx.GetAIDList(); err == nil {
		t.Fatal("expected error for a trailing partial AID")
	}
}

func TestGetDFListReblocksInto24ByteRecords(t *testing.T) {
	record := bytes.Repeat([]byte{0x5A}, 24)
	resp := append(append([]byte{0x00}, record...), record...)
	tr := &queueTransport{rawResponses: [][]byte{resp}}
	ctx := plainContext(t, tr)

	names, err := ctx.GetDFList()
	if err != nil {
		t.Fatalf("GetDFList: %v", err)
	}
	if len(names) != 2 || len(names[0]) != 24 || len(names[1]) != 24 {
		t.Fatalf("names = %v, want 2 records of 24 bytes", names)
	}
}

func TestCreateApplicationEncodesAIDLittleEndian(t *testing.T) {
	tr := &queueTransport{rawResponses: [][]byte{{0x00}}}
	ctx := plainContext(t, tr)

	if err := ctx.CreateApplication(0x123456, 0x0F, 0x81); err != nil {
		t.Fatalf("CreateApplication: %v", err)
	}
	sent := tr.rawCalls[0]
	want := []byte{insCreateApplication, 0x56, 0x34, 0x12, 0x0F, 0x81}
	if !bytes.Equal(sent, want) {
		t.Fatalf("sent = %x, want %x", sent, want)
	}
}

func TestSelectApplicationClearsSessionAndTracksSelection(t *testing.T) {
	tr := &queueTransport{rawResponses: [][]byte{{0x00}}}
	ctx := plainContext(t, tr)
	ctx.secureChannel = ChannelD40
	ctx.sessKeyLen = 8

	if err := ctx.SelectApplication(0x000001); err != nil {
		t.Fatalf("SelectApplication: %v", err)
	}
	if ctx.IsAuthenticated() {
		t.Fatal("expected session cleared after SelectApplication")
	}
	if !ctx.AppSelected() {
		t.Fatal("expected AppSelected() == true for a non-zero AID")
	}

	tr.rawResponses = [][]byte{{0x00}}
	if err := ctx.SelectApplication(0); err != nil {
		t.Fatalf("SelectApplication(0): %v", err)
	}
	if ctx.AppSelected() {
		t.Fatal("expected AppSelected() == false after selecting the PICC master application")
	}
}

func TestSelectApplicationClearsSessionEvenOnFailure(t *testing.T) {
	tr := &queueTransport{rawResponses: [][]byte{{0xAE}}}
	ctx := plainContext(t, tr)
	ctx.secureChannel = ChannelEV2
	ctx.sessKeyLen = 16

	err := ctx.SelectApplication(0x000001)
	if err == nil {
		t.Fatal("expected error for failing status")
	}
	if ctx.IsAuthenticated() {
		t.Fatal("expected session cleared even when SelectApplication fails")
	}
}

func TestCreateFileStdDataPayloadLayout(t *testing.T) {
	tr := &queueTransport{rawResponses: [][]byte{{0x00}}}
	ctx := plainContext(t, tr)

	err := ctx.CreateFile(CreateFileParams{
		FileNum:      0x01,
		Type:         FileStdData,
		CommMode:     CommEncrypted,
		AccessRights: AccessRights{ReadAccess: AccessFree, WriteAccess: 0x00, ReadWrite: 0x00, ChangeAccess: 0x00},
		FileSize:     256,
	})
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	sent := tr.rawCalls[0]
	ar := EncodeAccessRights(AccessRights{ReadAccess: AccessFree})
	want := []byte{insCreateStdDataFile, 0x01, commSettingsByte(CommEncrypted), byte(ar), byte(ar >> 8), 0x00, 0x01, 0x00}
	if !bytes.Equal(sent, want) {
		t.Fatalf("sent = %x, want %x", sent, want)
	}
}

func TestCreateFileIncludesISOFileIDWhenSet(t *testing.T) {
	tr := &queueTransport{rawResponses: [][]byte{{0x00}}}
	ctx := plainContext(t, tr)

	if err := ctx.CreateFile(CreateFileParams{
		FileNum:   0x02,
		Type:      FileBackupData,
		ISOFileID: 0x2F01,
		FileSize:  64,
	}); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	sent := tr.rawCalls[0]
	if len(sent) < 4 || sent[2] != 0x2F || sent[3] != 0x01 {
		t.Fatalf("sent = %x, want ISO file ID 2F01 at offset 2", sent)
	}
}

func TestCreateFileValuePayloadLayout(t *testing.T) {
	tr := &queueTransport{rawResponses: [][]byte{{0x00}}}
	ctx := plainContext(t, tr)

	if err := ctx.CreateFile(CreateFileParams{
		FileNum:       0x03,
		Type:          FileValue,
		LowerLimit:    0,
		UpperLimit:    1000,
		Value:         500,
		LimitedCredit: true,
	}); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	sent := tr.rawCalls[0]
	if sent[0] != insCreateValueFile {
		t.Fatalf("ins = %#x, want insCreateValueFile", sent[0])
	}
	tail := sent[len(sent)-13:]
	wantTail := concat(concat(encodeLE4(0), encodeLE4(1000)), append(encodeLE4(500), 0x01))
	if !bytes.Equal(tail, wantTail) {
		t.Fatalf("tail = %x, want %x", tail, wantTail)
	}
}

func TestReadDataEncodesOffsetAndLengthLE3(t *testing.T) {
	tr := &queueTransport{rawResponses: [][]byte{{0x00, 0xDE, 0xAD}}}
	ctx := plainContext(t, tr)

	data, err := ctx.ReadData(0x01, 0x000010, 0x000002)
	if err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if !bytes.Equal(data, []byte{0xDE, 0xAD}) {
		t.Fatalf("data = %x, want dead", data)
	}
	sent := tr.rawCalls[0]
	want := []byte{insReadData, 0x01, 0x10, 0x00, 0x00, 0x02, 0x00, 0x00}
	if !bytes.Equal(sent, want) {
		t.Fatalf("sent = %x, want %x", sent, want)
	}
}

func TestGetValueDecodesLE4Balance(t *testing.T) {
	tr := &queueTransport{rawResponses: [][]byte{{0x00, 0x78, 0x56, 0x34, 0x12}}}
	ctx := plainContext(t, tr)

	v, err := ctx.GetValue(0x01)
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if v != 0x12345678 {
		t.Fatalf("value = %#x, want 0x12345678", v)
	}
}

func TestCreditEncodesFileNumAsHeaderAndAmountAsBody(t *testing.T) {
	tr := &queueTransport{rawResponses: [][]byte{{0x00}}}
	ctx := plainContext(t, tr)

	if err := ctx.Credit(0x03, 100); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	sent := tr.rawCalls[0]
	want := []byte{insCredit, 0x03, 100, 0, 0, 0}
	if !bytes.Equal(sent, want) {
		t.Fatalf("sent = %x, want %x", sent, want)
	}
}

func TestDeleteApplicationClearsSessionOnlyOnSuccess(t *testing.T) {
	tr := &queueTransport{rawResponses: [][]byte{{0xAE}}}
	ctx := plainContext(t, tr)
	ctx.secureChannel = ChannelD40
	ctx.sessKeyLen = 8

	if err := ctx.DeleteApplication(0x000001); err == nil {
		t.Fatal("expected error for failing status")
	}
	if !ctx.IsAuthenticated() {
		t.Fatal("expected session to survive a failed DeleteApplication")
	}

	tr.rawResponses = [][]byte{{0x00}}
	if err := ctx.DeleteApplication(0x000001); err != nil {
		t.Fatalf("DeleteApplication: %v", err)
	}
	if ctx.IsAuthenticated() {
		t.Fatal("expected session cleared after a successful DeleteApplication")
	}
}
