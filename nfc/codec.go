package nfc

import (
	libnfc "github.com/clausecker/nfc/v2"
)

// Field names used by the codec.
const (
	FieldATQA            = "ATQA"
	FieldSAK             = "SAK"
	FieldUID             = "UID"
	FieldATS             = "ATS"
	FieldPUPI            = "PUPI"
	FieldApplicationData = "Application Data"
	FieldProtocolInfo    = "Protocol Info"
	FieldCardID          = "Card Id"
)

// KindOf maps a libnfc modulation type to a Kind.
func KindOf(modulationType int) Kind {
	switch modulationType {
	case libnfc.ISO14443a:
		return KindISO14443A
	case libnfc.ISO14443b:
		return KindISO14443B
	case libnfc.ISO14443bi:
		return KindISO14443BI
	case libnfc.ISO14443b2sr:
		return KindISO14443B2S
	case libnfc.ISO14443b2ct:
		return KindISO14443B2C
	case libnfc.Felica:
		return KindFeliCa
	case libnfc.Jewel:
		return KindJewel
	case libnfc.DEP:
		return KindDEP
	default:
		return KindUnknown
	}
}

// Normalize converts a raw libnfc target into a TagRecord.
//
// ISO14443A targets yield ATQA, SAK, UID and ATS; ISO14443B targets yield PUPI,
// Application Data, Protocol Info and Card Id. Every other modulation fails with
// ErrUnsupportedModulation. A target whose length fields exceed their buffers
// cannot be turned into a record and fails with ErrResourceExhausted.
func Normalize(target libnfc.Target) (*TagRecord, error) {
	switch t := target.(type) {
	case nil:
		return nil, Errorf(ErrCodeResourceExhausted, "Normalize", "no target to normalize")
	case *libnfc.ISO14443aTarget:
		uidLen, atsLen := int(t.UIDLen), int(t.AtsLen)
		if uidLen < 0 || uidLen > len(t.UID) || atsLen < 0 || atsLen > len(t.Ats) {
			return nil, Errorf(ErrCodeResourceExhausted, "Normalize",
				"ISO14443A lengths out of range (uid %d, ats %d)", uidLen, atsLen)
		}
		rec := NewTagRecord(KindISO14443A,
			Field{Name: FieldATQA, Value: t.Atqa[:]},
			Field{Name: FieldSAK, Value: []byte{t.Sak}},
			Field{Name: FieldUID, Value: t.UID[:uidLen]},
			Field{Name: FieldATS, Value: t.Ats[:atsLen]},
		)
		return rec.withFamily(inferFamily(t.Atqa, t.Sak)), nil
	case *libnfc.ISO14443bTarget:
		return NewTagRecord(KindISO14443B,
			Field{Name: FieldPUPI, Value: t.Pupi[:]},
			Field{Name: FieldApplicationData, Value: t.ApplicationData[:]},
			Field{Name: FieldProtocolInfo, Value: t.ProtocolInfo[:]},
			Field{Name: FieldCardID, Value: []byte{t.CardIdentifier}},
		), nil
	default:
		return nil, NewUnsupportedModulationError("Normalize", KindOf(target.Modulation().Type))
	}
}

// inferFamily guesses the product family from ATQA/SAK (NXP AN10833).
func inferFamily(atqa [2]byte, sak byte) string {
	switch sak {
	case 0x08, 0x88:
		return CardTypeMifareClassic1K
	case 0x18:
		return CardTypeMifareClassic4K
	case 0x09:
		return CardTypeMifareMini
	case 0x00:
		return CardTypeMifareUltralight
	case 0x20:
		if atqa[0] == 0x03 && atqa[1] == 0x44 {
			return CardTypeDesfire
		}
		return CardTypeType4
	case 0x28, 0x38:
		return CardTypeSmartMX
	default:
		return ""
	}
}
