// Package media реализует медиа путь B-канала между CAPI и АТС.
//
// # Основные возможности
//
//   - Обращение порядка бит: на линии ISDN октет идет младшим битом вперед
//   - Преобразование G.711 (A-law/μ-law) в линейные отсчеты и обратно
//   - Подавление эха (echo squelch) по средней мощности приема и передачи
//   - Прозрачная передача RTP для контроллеров с B-протоколом RTP
//   - DTMF события RFC 4733 внутри RTP потока
//   - Очередь кадров от потока монитора к циклу чтения АТС
//   - Прием и передача факса G3 (SFF поток через io.Writer/io.Reader)
//
// # Направления
//
// Данные DATA_B3_IND проходят через Adapter.FromCAPI и попадают в Pipe
// интерфейса. Кадры АТС проходят через Adapter.ToCAPI и отправляются в
// DATA_B3_REQ.
//
//	a := media.NewAdapter(media.DefaultAdapterConfig())
//	frames, err := a.FromCAPI(data)
//	for _, f := range frames {
//		pipe.Write(f)
//	}
//
// Для линий с RTP описание медиа для RTP части АТС строится через
// RTPProfile.MediaDescription.
package media
