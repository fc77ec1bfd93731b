package frame

// Demux fans a stream of validated frames out into one ordered stream per
// module. The source is consumed exactly once; arrival order is preserved
// within each module. The returned channels close when the source closes.
// Frames carrying an unknown module id are dropped.
func Demux(in <-chan *Frame) map[Module]<-chan *Frame {
	chans := make(map[Module]chan *Frame, NumModules)
	for m := ModuleA; m < NumModules; m++ {
		chans[m] = make(chan *Frame, 16)
	}

	go func() {
		defer func() {
			for _, ch := range chans {
				close(ch)
			}
		}()
		for f := range in {
			if ch, ok := chans[f.Module]; ok {
				ch <- f
			}
		}
	}()

	out := make(map[Module]<-chan *Frame, len(chans))
	for m, ch := range chans {
		out[m] = ch
	}
	return out
}
