package capitest

import "github.com/arzzra/isdn_capi/pkg/capi"

func (f *FakeStack) build(kind capi.Kind, id uint32, format string, args ...interface{}) *capi.Message {
	m, err := capi.NewMessage(kind, 1, f.nextNumber(), id, format, args...)
	if err != nil {
		panic(err)
	}
	return m
}

// ConnectInd входящий вызов
func (f *FakeStack) ConnectInd(plci uint32, called, calling string) *capi.Message {
	return f.build(capi.ConnectInd, plci, "wcccccccc",
		capi.CIPTelephony,
		capi.CalledPartyNumber(called),
		capi.CallingPartyNumber(calling, capi.PresAllowed),
		nil, nil, nil, nil, nil, nil)
}

// ConnectConf подтверждение CONNECT_REQ с номером number
func (f *FakeStack) ConnectConf(number uint16, plci uint32, info capi.Info) *capi.Message {
	m := f.build(capi.ConnectConf, plci, "w", info)
	m.Number = number
	return m
}

// Conf подтверждение из одного info с номером number
func (f *FakeStack) Conf(kind capi.Kind, number uint16, id uint32, info capi.Info) *capi.Message {
	m := f.build(kind, id, "w", info)
	m.Number = number
	return m
}

// ConnectActiveInd соединение установлено
func (f *FakeStack) ConnectActiveInd(plci uint32) *capi.Message {
	return f.build(capi.ConnectActiveInd, plci, "ccc", nil, nil, nil)
}

// ConnectB3Ind удаленная сторона открывает B3
func (f *FakeStack) ConnectB3Ind(ncci uint32) *capi.Message {
	return f.build(capi.ConnectB3Ind, ncci, "c", nil)
}

// ConnectB3ActiveInd B3 поднят
func (f *FakeStack) ConnectB3ActiveInd(ncci uint32) *capi.Message {
	return f.build(capi.ConnectB3ActiveInd, ncci, "c", nil)
}

// DisconnectB3Ind B3 разорван
func (f *FakeStack) DisconnectB3Ind(ncci uint32, reason capi.Info) *capi.Message {
	return f.build(capi.DisconnectB3Ind, ncci, "wc", reason, nil)
}

// DisconnectB3IndNCPI B3 разорван с NCPI (итог сеанса факса)
func (f *FakeStack) DisconnectB3IndNCPI(ncci uint32, reason capi.Info, ncpi []byte) *capi.Message {
	return f.build(capi.DisconnectB3Ind, ncci, "wc", reason, ncpi)
}

// DisconnectInd физическое соединение разорвано
func (f *FakeStack) DisconnectInd(plci uint32, reason capi.Info) *capi.Message {
	return f.build(capi.DisconnectInd, plci, "w", reason)
}

// InfoInd информационный элемент
func (f *FakeStack) InfoInd(plci uint32, number capi.InfoNumber, element []byte) *capi.Message {
	return f.build(capi.InfoInd, plci, "wc", uint16(number), element)
}

// FacilityInd произвольная facility индикация
func (f *FakeStack) FacilityInd(id uint32, selector uint16, param []byte) *capi.Message {
	return f.build(capi.FacilityInd, id, "wc", selector, param)
}

// SupplementaryInd индикация supplementary services с телом body
func (f *FakeStack) SupplementaryInd(plci uint32, function uint16, body []byte) *capi.Message {
	param, err := capi.Pack("wc", function, body)
	if err != nil {
		panic(err)
	}
	return f.FacilityInd(plci, capi.FacilitySupplementary, param)
}

// SupplementaryConf подтверждение supplementary запроса
func (f *FakeStack) SupplementaryConf(number uint16, id uint32, info capi.Info, function uint16, body []byte) *capi.Message {
	param, err := capi.Pack("wc", function, body)
	if err != nil {
		panic(err)
	}
	m := f.build(capi.FacilityConf, id, "wwc", info, capi.FacilitySupplementary, param)
	m.Number = number
	return m
}

// DataB3Ind входящий блок данных
func (f *FakeStack) DataB3Ind(ncci uint32, handle uint16, data []byte) *capi.Message {
	m := f.build(capi.DataB3Ind, ncci, "dwww", uint32(0), len(data), handle, 0)
	m.Data = append([]byte(nil), data...)
	return m
}

// DataB3Conf подтверждение отправки блока
func (f *FakeStack) DataB3Conf(ncci uint32, handle uint16, info capi.Info) *capi.Message {
	return f.build(capi.DataB3Conf, ncci, "ww", handle, info)
}

// Word кодирует одно слово little-endian (тело supplementary индикаций)
func Word(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}
